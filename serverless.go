package subscriber

import (
	"context"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
	"golang.org/x/sync/errgroup"
)

// BatchResponse is returned by ServerlessAdapter.Handle when
// ServerlessConfig.UseBatchResponse is set. It names the ids of messages
// from the delivered batch that did not succeed, in the shape a serverless
// host's own partial-batch-failure reporting expects.
type BatchResponse struct {
	FailedMessageIDs []string
}

// ServerlessAdapter drives the same Manager.Process pipeline as the
// long-running Poller against a single host-delivered batch, never calling
// Facade.Receive itself. It is built once per bound queue and its Handle
// method called once per invocation.
type ServerlessAdapter struct {
	facade  *queue.Facade
	manager *Manager
	fifo    *fifoScheduler
	cfg     ServerlessConfig
}

// NewServerlessAdapter builds a ServerlessAdapter bound to cfg.QueueURL. The
// underlying Manager is constructed with shouldExtendVisibility=false: the
// host owns the message's lease for the duration of the invocation, so no
// heartbeat loop runs.
func NewServerlessAdapter(facade *queue.Facade, registry *Registry, cfg ServerlessConfig, hooks *CodecHooks) *ServerlessAdapter {
	manager := NewManager(facade, registry, cfg.QueueURL, cfg.MaxConcurrentMessages, 0, 0, 0, cfg.DeleteOnSuccess, false, hooks)
	a := &ServerlessAdapter{facade: facade, manager: manager, cfg: cfg}
	if cfg.IsFIFO {
		a.fifo = newFIFOScheduler(manager, cfg.MaxConcurrentGroups)
	}
	return a
}

// Handle processes one host-delivered batch and returns a BatchResponse when
// cfg.UseBatchResponse is set (nil otherwise). An empty batch returns an
// empty BatchResponse without touching the Manager or the queue service at
// all. The adapter derives its own cancelable context from ctx and cancels
// it before returning, so no handler work outlives one invocation.
func (a *ServerlessAdapter) Handle(ctx context.Context, messages []sqstypes.Message) (*BatchResponse, error) {
	if len(messages) == 0 {
		return &BatchResponse{}, nil
	}

	invocationCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := a.process(invocationCtx, messages)

	if !a.cfg.UseBatchResponse {
		return nil, nil
	}

	resp := &BatchResponse{}
	var toExtend []queue.VisibilityEntry
	for _, r := range results {
		if r.result.Outcome == Completed {
			continue
		}
		resp.FailedMessageIDs = append(resp.FailedMessageIDs, r.messageID)
		if a.cfg.VisibilityTimeoutForBatchFailures != nil && r.receiptHandle != "" {
			toExtend = append(toExtend, queue.VisibilityEntry{
				ID:                r.messageID,
				ReceiptHandle:     r.receiptHandle,
				VisibilitySeconds: *a.cfg.VisibilityTimeoutForBatchFailures,
			})
		}
	}
	if len(toExtend) > 0 {
		a.facade.ChangeVisibilityBatch(invocationCtx, a.cfg.QueueURL, toExtend)
	}
	return resp, nil
}

// messageOutcome pairs one message's processing result with the identifiers
// needed to report or re-lease it afterward.
type messageOutcome struct {
	messageID     string
	receiptHandle string
	result        HandlerResult
}

// process fans the batch out through the bound Manager (and, for a FIFO
// queue, through the group scheduler) and collects every message's outcome.
func (a *ServerlessAdapter) process(ctx context.Context, messages []sqstypes.Message) []messageOutcome {
	if a.cfg.IsFIFO {
		return a.processFIFO(ctx, messages)
	}

	results := make([]messageOutcome, len(messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.MaxConcurrentMessages)
	for i, msg := range messages {
		i, msg := i, msg
		g.Go(func() error {
			results[i] = messageOutcome{
				messageID:     stringValue(msg.MessageId),
				receiptHandle: stringValue(msg.ReceiptHandle),
				result:        a.manager.Process(gctx, msg),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// processFIFO mirrors fifoScheduler.Dispatch but additionally records every
// message's outcome, including messages a failed predecessor leaves
// undispatched in its group (reported as Failed, since they were not
// acknowledged).
func (a *ServerlessAdapter) processFIFO(ctx context.Context, messages []sqstypes.Message) []messageOutcome {
	groups := make(map[string][]sqstypes.Message)
	order := make([]string, 0)
	for _, msg := range messages {
		gid := groupID(msg)
		if _, ok := groups[gid]; !ok {
			order = append(order, gid)
		}
		groups[gid] = append(groups[gid], msg)
	}

	resultsCh := make(chan messageOutcome, len(messages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.fifo.maxConcurrent)
	for _, gid := range order {
		msgs := groups[gid]
		g.Go(func() error {
			stopped := false
			for _, msg := range msgs {
				id := stringValue(msg.MessageId)
				rh := stringValue(msg.ReceiptHandle)
				if stopped || gctx.Err() != nil {
					resultsCh <- messageOutcome{messageID: id, receiptHandle: rh, result: HandlerResult{Outcome: Failed, Error: ErrCancelledDuringProcessing}}
					continue
				}
				res := a.manager.Process(gctx, msg)
				resultsCh <- messageOutcome{messageID: id, receiptHandle: rh, result: res}
				if res.Outcome != Completed {
					stopped = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	close(resultsCh)

	results := make([]messageOutcome, 0, len(messages))
	for r := range resultsCh {
		results = append(results, r)
	}
	return results
}
