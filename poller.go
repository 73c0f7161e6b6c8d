package subscriber

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
)

// Poller drives the long-running receive loop for one bound queue: receive,
// dispatch, back off on an empty batch, and stop on a fatal queue error.
// Graceful shutdown stops issuing new Receive calls once ctx is done, then
// waits for in-flight work before returning.
type Poller struct {
	facade  *queue.Facade
	manager *Manager
	fifo    *fifoScheduler
	cfg     SubscriptionConfig
}

// NewPoller builds a Poller bound to cfg.QueueURL, dispatching through
// manager (flat concurrent dispatch) or, when cfg.IsFIFO is set, through a
// per-group scheduler layered on the same manager.
func NewPoller(facade *queue.Facade, manager *Manager, cfg SubscriptionConfig) *Poller {
	p := &Poller{facade: facade, manager: manager, cfg: cfg}
	if cfg.IsFIFO {
		p.fifo = newFIFOScheduler(manager, cfg.MaxConcurrentGroups)
	}
	return p
}

// Run blocks, polling cfg.QueueURL until ctx is done or Receive returns a
// fatal error. On fatal error it returns the wrapped ErrFatalQueueError
// (invariant 6) without making any further Receive call; in-flight work is
// still waited for before returning.
func (p *Poller) Run(ctx context.Context) error {
	log.Printf("🚀 subscriber poller started for queue %s", p.cfg.QueueURL)
	var wg sync.WaitGroup
	var fatalErr error

pollLoop:
	for {
		if ctx.Err() != nil {
			log.Println("INFO: shutdown initiated, no longer polling for new messages.")
			break
		}

		want := p.cfg.MaxMessagesPerReceive
		if !p.cfg.IsFIFO {
			if avail := p.manager.capacity(); avail < int64(want) {
				want = int32(avail)
			}
			if want <= 0 {
				if err := p.manager.waitForCapacity(ctx); err != nil {
					continue pollLoop
				}
				p.manager.release()
				continue pollLoop
			}
		}

		messages, err := p.facade.Receive(ctx, p.cfg.QueueURL, want, p.cfg.WaitTimeSeconds, p.cfg.VisibilityTimeoutSeconds)
		if err != nil {
			if errors.Is(err, queue.ErrFatal) {
				fatalErr = fmt.Errorf("%w: %v", ErrFatalQueueError, err)
				log.Printf("FATAL: %v", fatalErr)
				break pollLoop
			}
			// Receive only ever returns queue.ErrFatal or nil; any other
			// error is treated defensively the same way as an empty batch.
			time.Sleep(p.cfg.BackoffPolicy.Next())
			continue
		}

		if len(messages) == 0 {
			time.Sleep(p.cfg.BackoffPolicy.Next())
			continue
		}
		p.cfg.BackoffPolicy.Reset()
		log.Printf("INFO: received %d messages.", len(messages))

		if p.cfg.IsFIFO {
			wg.Add(1)
			go func(batch []sqstypes.Message) {
				defer wg.Done()
				p.fifo.Dispatch(ctx, batch)
			}(messages)
			continue
		}

		for _, msg := range messages {
			if err := p.manager.waitForCapacity(ctx); err != nil {
				break
			}
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer p.manager.release()
				p.manager.Process(ctx, m)
			}(msg)
		}
	}

	log.Println("INFO: waiting for in-flight messages to be processed...")
	wg.Wait()
	log.Println("✅ graceful shutdown complete. All processed messages are handled.")
	return fatalErr
}
