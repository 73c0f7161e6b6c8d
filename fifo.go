package subscriber

import (
	"context"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"golang.org/x/sync/errgroup"
)

// messageGroupIDAttr is the SQS system attribute key carrying a FIFO
// message's group id, requested explicitly by Facade.Receive.
const messageGroupIDAttr = "MessageGroupId"

// fifoScheduler partitions a received batch by MessageGroupId and serializes
// Manager.Process calls within a group while running distinct groups
// concurrently, subject to maxConcurrentGroups. It is a thin layer over
// Manager: it never touches the lease tracker or active count directly,
// only Manager.Process.
type fifoScheduler struct {
	manager       *Manager
	maxConcurrent int
}

// newFIFOScheduler builds a fifoScheduler bound to manager, capping the
// number of simultaneously-active groups (not messages) at maxConcurrent.
func newFIFOScheduler(manager *Manager, maxConcurrent int) *fifoScheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &fifoScheduler{manager: manager, maxConcurrent: maxConcurrent}
}

// groupID reads the MessageGroupId system attribute off a raw SQS message.
// Messages with no group id (non-FIFO messages mixed into a FIFO batch,
// which should not happen in practice) are bucketed under the empty group.
func groupID(msg sqstypes.Message) string {
	return msg.Attributes[messageGroupIDAttr]
}

// Dispatch partitions batch by group id and runs each group's messages
// in order on its own goroutine, capped at maxConcurrent groups running at
// once via an errgroup. It blocks until every dispatched group has either
// drained or hit a Failed outcome. The concurrency ceiling here is over
// groups, not messages, so unlike the flat dispatch path in Poller.Run this
// never touches Manager.waitForCapacity.
func (s *fifoScheduler) Dispatch(ctx context.Context, batch []sqstypes.Message) {
	groups := make(map[string][]sqstypes.Message)
	order := make([]string, 0)
	for _, msg := range batch {
		gid := groupID(msg)
		if _, ok := groups[gid]; !ok {
			order = append(order, gid)
		}
		groups[gid] = append(groups[gid], msg)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrent)

	for _, gid := range order {
		messages := groups[gid]
		g.Go(func() error {
			s.runGroup(gctx, messages)
			return nil
		})
	}

	// Group goroutines never return an error (failures are a local outcome,
	// not a scheduler-level one); Wait only blocks for drain.
	_ = g.Wait()
}

// runGroup processes messages for a single group strictly in order. It
// stops dispatching further messages in this group as soon as one produces
// a Failed outcome (the rest remain on the queue for in-order redelivery) or
// ctx is done.
func (s *fifoScheduler) runGroup(ctx context.Context, messages []sqstypes.Message) {
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		result := s.manager.Process(ctx, msg)
		if result.Outcome != Completed {
			return
		}
	}
}
