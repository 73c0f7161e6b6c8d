package subscriber

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
)

// defaultHeartbeatInterval is the fallback heartbeat tick used when a caller
// passes a non-positive heartbeatInterval to NewManager (the serverless
// adapter never runs a heartbeat loop at all, so its value is inert there).
const defaultHeartbeatInterval = time.Second

// Manager owns one queue's worth of in-flight message state: the capacity
// ceiling, the lease tracker, and the heartbeat loop that extends visibility
// for records nearing expiry. A Manager is constructed once per bound queue
// and reused across every Process call for that queue.
type Manager struct {
	facade   *queue.Facade
	registry *Registry
	queueURL string
	hooks    *CodecHooks

	visibilityTimeout            int32
	visibilityExtensionThreshold time.Duration
	heartbeatInterval            time.Duration
	deleteOnSuccess              bool
	shouldExtendVisibility       bool

	maxConcurrent int64
	active        atomic.Int64
	slotFreed     chan struct{}

	tracker *leaseTracker

	heartbeatMu      sync.Mutex
	heartbeatRunning bool
}

// NewManager builds a Manager bound to queueURL using facade for all queue
// RPCs and registry for handler dispatch. shouldExtendVisibility is false
// for the serverless entry point, which relies on the host's own lease
// rather than running its own heartbeat; heartbeatInterval controls how
// often the heartbeat loop wakes to check for records nearing expiry and
// falls back to defaultHeartbeatInterval when non-positive.
func NewManager(facade *queue.Facade, registry *Registry, queueURL string, maxConcurrent int, visibilityTimeoutSeconds int32, visibilityExtensionThreshold, heartbeatInterval time.Duration, deleteOnSuccess, shouldExtendVisibility bool, hooks *CodecHooks) *Manager {
	if heartbeatInterval <= 0 {
		heartbeatInterval = defaultHeartbeatInterval
	}
	return &Manager{
		facade:                       facade,
		registry:                     registry,
		queueURL:                     queueURL,
		hooks:                        hooks,
		visibilityTimeout:            visibilityTimeoutSeconds,
		visibilityExtensionThreshold: visibilityExtensionThreshold,
		heartbeatInterval:            heartbeatInterval,
		deleteOnSuccess:              deleteOnSuccess,
		shouldExtendVisibility:       shouldExtendVisibility,
		maxConcurrent:                int64(maxConcurrent),
		slotFreed:                    make(chan struct{}, maxConcurrent),
		tracker:                      newLeaseTracker(),
	}
}

// capacity reports how many more messages could be admitted right now.
func (m *Manager) capacity() int64 {
	c := m.maxConcurrent - m.active.Load()
	if c < 0 {
		return 0
	}
	return c
}

// tryAcquire claims one slot without blocking, returning false if none is
// free.
func (m *Manager) tryAcquire() bool {
	for {
		cur := m.active.Load()
		if cur >= m.maxConcurrent {
			return false
		}
		if m.active.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// release frees one slot, waking a single waiter in waitForCapacity.
func (m *Manager) release() {
	m.active.Add(-1)
	select {
	case m.slotFreed <- struct{}{}:
	default:
	}
}

// waitForCapacity blocks until it claims a free slot (design note 9: a
// cancellable channel-or-equivalent, not a bare blocking wait) or ctx is
// done. On a nil return the caller holds the slot and must release() it.
func (m *Manager) waitForCapacity(ctx context.Context) error {
	for {
		if m.tryAcquire() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.slotFreed:
		}
	}
}

// ensureHeartbeat starts the heartbeat goroutine if it is not already
// running. Safe to call repeatedly; the loop exits and resets its own
// running flag once the tracker drains, so a later in-flight record starts
// it again.
func (m *Manager) ensureHeartbeat(ctx context.Context) {
	m.heartbeatMu.Lock()
	defer m.heartbeatMu.Unlock()
	if m.heartbeatRunning {
		return
	}
	m.heartbeatRunning = true
	go m.runHeartbeat(ctx)
}

func (m *Manager) runHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(m.heartbeatInterval)
	defer ticker.Stop()
	defer func() {
		m.heartbeatMu.Lock()
		m.heartbeatRunning = false
		m.heartbeatMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.tracker.isEmpty() {
				return
			}
			m.extendDueRecords(ctx)
		}
	}
}

func (m *Manager) extendDueRecords(ctx context.Context) {
	due := m.tracker.dueForExtension(m.visibilityExtensionThreshold, time.Now())
	if len(due) == 0 {
		return
	}
	entries := make([]queue.VisibilityEntry, 0, len(due))
	for _, rec := range due {
		entries = append(entries, queue.VisibilityEntry{
			ID:                rec.MessageID,
			ReceiptHandle:     rec.ReceiptHandle,
			VisibilitySeconds: m.visibilityTimeout,
		})
	}
	failed := m.facade.ChangeVisibilityBatch(ctx, m.queueURL, entries)
	failedSet := make(map[string]bool, len(failed))
	for _, id := range failed {
		failedSet[id] = true
	}
	newExpiry := time.Now().Add(time.Duration(m.visibilityTimeout) * time.Second)
	for _, rec := range due {
		if !failedSet[rec.MessageID] {
			m.tracker.extend(rec.MessageID, newExpiry)
		} else {
			log.Printf("⚠️  Warning: failed to extend visibility for message %s", rec.MessageID)
		}
	}
}

func stringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Process decodes, dispatches, and (on success) deletes one queue message.
// It never touches the active count: Poller.Run's flat path claims a slot
// (waitForCapacity) before calling it and calls release() once it returns,
// while the FIFO scheduler and the serverless adapter bound concurrency with
// their own errgroup limits instead.
func (m *Manager) Process(ctx context.Context, msg sqstypes.Message) HandlerResult {
	messageID := stringValue(msg.MessageId)
	receiptHandle := stringValue(msg.ReceiptHandle)
	if receiptHandle == "" {
		return HandlerResult{Outcome: Failed, Error: ErrMissingReceiptHandle}
	}

	body := []byte(stringValue(msg.Body))
	env, meta, err := Decode(ctx, body, &msg, m.hooks)
	if err != nil {
		log.Printf("❌ FAILURE decode message id=%s: %v", messageID, err)
		return HandlerResult{Outcome: Failed, Error: err}
	}

	groupID := ""
	if qm, ok := meta.(QueueMetadata); ok {
		groupID = qm.MessageGroupID
	}

	if m.shouldExtendVisibility {
		m.tracker.add(&inFlightRecord{
			MessageID:     messageID,
			ReceiptHandle: receiptHandle,
			GroupID:       groupID,
			VisibilitySec: m.visibilityTimeout,
			ExpiresAt:     time.Now().Add(time.Duration(m.visibilityTimeout) * time.Second),
		})
		m.ensureHeartbeat(ctx)
		defer m.tracker.remove(messageID)
	}

	select {
	case <-ctx.Done():
		return HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: %v", ErrCancelledDuringProcessing, ctx.Err())}
	default:
	}

	result := m.registry.Invoke(ctx, env, meta)

	if result.Outcome == Completed {
		log.Printf("✅ SUCCESS processed message id=%s type=%s", messageID, env.Type)
		if m.deleteOnSuccess {
			failed := m.facade.DeleteBatch(ctx, m.queueURL, map[string]string{messageID: receiptHandle})
			if len(failed) > 0 {
				log.Printf("⚠️  Warning: failed to delete message %s after successful processing", messageID)
			}
		}
	} else {
		log.Printf("❌ FAILURE processing message id=%s type=%s: %v", messageID, env.Type, result.Error)
	}
	return result
}
