package subscriber

import (
	"context"
	"sync"
	"testing"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fifoMessage builds a FIFO test message carrying a MessageGroupId system
// attribute, mirroring what Facade.Receive's MessageSystemAttributeNames
// would populate.
func fifoMessage(id, group, text string) sqstypes.Message {
	msg := testMessage(id, "rh-"+id, text)
	msg.Attributes = map[string]string{"MessageGroupId": group}
	return msg
}

// newFIFOTestRegistry registers a handler that records each invocation's
// message id in completion order and optionally fails for a given message id, so tests can
// assert ordering (invariant 3 / scenario S4).
func newFIFOTestRegistry(t *testing.T, sleep time.Duration, failIDs map[string]bool) (*Registry, *sync.Mutex, *[]string) {
	t.Helper()
	registry := NewRegistry(nil)
	var mu sync.Mutex
	var completions []string
	RegisterTyped(registry, "Test.Message", func(ctx context.Context, payload chatMessage, meta TransportMetadata, scope *Scope) HandlerResult {
		time.Sleep(sleep)
		qm, _ := meta.(QueueMetadata)
		mu.Lock()
		completions = append(completions, qm.MessageID)
		mu.Unlock()
		if failIDs[qm.MessageID] {
			return HandlerResult{Outcome: Failed, Error: assertErr}
		}
		return HandlerResult{Outcome: Completed}
	})
	return registry, &mu, &completions
}

func TestFIFOScheduler_OrdersWithinGroupAcrossGroupsParallel(t *testing.T) {
	client := &fakeQueueClient{}
	facade := queue.New(client)
	registry, _, completions := newFIFOTestRegistry(t, 20*time.Millisecond, nil)
	manager := NewManager(facade, registry, "https://sqs.us-east-1.amazonaws.com/123/q.fifo", 10, 30, 5*time.Second, time.Second, true, false, nil)
	sched := newFIFOScheduler(manager, 2)

	batch := []sqstypes.Message{
		fifoMessage("a1", "A", "ok"),
		fifoMessage("a2", "A", "ok"),
		fifoMessage("a3", "A", "ok"),
		fifoMessage("b1", "B", "ok"),
		fifoMessage("b2", "B", "ok"),
		fifoMessage("b3", "B", "ok"),
	}

	sched.Dispatch(context.Background(), batch)

	indexOf := func(id string) int {
		for i, c := range *completions {
			if c == id {
				return i
			}
		}
		t.Fatalf("message %s never completed", id)
		return -1
	}
	assert.Less(t, indexOf("a1"), indexOf("a2"))
	assert.Less(t, indexOf("a2"), indexOf("a3"))
	assert.Less(t, indexOf("b1"), indexOf("b2"))
	assert.Less(t, indexOf("b2"), indexOf("b3"))
	assert.Len(t, *completions, 6)
}

func TestFIFOScheduler_FailureStopsRemainderOfGroup(t *testing.T) {
	client := &fakeQueueClient{}
	facade := queue.New(client)
	registry, _, completions := newFIFOTestRegistry(t, 0, map[string]bool{"a2": true})
	manager := NewManager(facade, registry, "https://sqs.us-east-1.amazonaws.com/123/q.fifo", 10, 30, 5*time.Second, time.Second, true, false, nil)
	sched := newFIFOScheduler(manager, 2)

	batch := []sqstypes.Message{
		fifoMessage("a1", "A", "ok"),
		fifoMessage("a2", "A", "ok"),
		fifoMessage("a3", "A", "ok"),
	}

	sched.Dispatch(context.Background(), batch)

	assert.ElementsMatch(t, []string{"a1", "a2"}, *completions, "a3 must not be dispatched after a2 fails")
}

func TestFIFOScheduler_DeletesOnlySuccessfulMessages(t *testing.T) {
	client := &fakeQueueClient{}
	facade := queue.New(client)
	registry := NewRegistry(nil)
	RegisterTyped(registry, "Test.Message", func(ctx context.Context, payload chatMessage, meta TransportMetadata, scope *Scope) HandlerResult {
		if payload.Text == "fail" {
			return HandlerResult{Outcome: Failed, Error: assertErr}
		}
		return HandlerResult{Outcome: Completed}
	})
	manager := NewManager(facade, registry, "https://sqs.us-east-1.amazonaws.com/123/q.fifo", 10, 30, 5*time.Second, time.Second, true, false, nil)
	sched := newFIFOScheduler(manager, 1)

	batch := []sqstypes.Message{
		fifoMessage("a1", "A", "ok"),
		fifoMessage("a2", "A", "fail"),
	}
	sched.Dispatch(context.Background(), batch)

	require.Len(t, client.deleteCalls, 1)
	assert.Equal(t, []string{"a1"}, client.deleteCalls[0])
}

func TestGroupID_ReadsMessageGroupIdAttribute(t *testing.T) {
	msg := sqstypes.Message{Attributes: map[string]string{"MessageGroupId": "g1"}}
	assert.Equal(t, "g1", groupID(msg))
	assert.Equal(t, "", groupID(sqstypes.Message{}))
}
