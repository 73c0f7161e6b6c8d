package subscriber

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueueClient struct {
	receiveCalls  int
	deleteCalls   [][]string
	visCalls      [][]string
	visTimeouts   [][]int32
	deleteErr     error
	changeVisErr  error
}

func (f *fakeQueueClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.receiveCalls++
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeQueueClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	var ids []string
	for _, e := range params.Entries {
		ids = append(ids, aws.ToString(e.Id))
	}
	f.deleteCalls = append(f.deleteCalls, ids)
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func (f *fakeQueueClient) ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error) {
	var ids []string
	var timeouts []int32
	for _, e := range params.Entries {
		ids = append(ids, aws.ToString(e.Id))
		timeouts = append(timeouts, e.VisibilityTimeout)
	}
	f.visCalls = append(f.visCalls, ids)
	f.visTimeouts = append(f.visTimeouts, timeouts)
	if f.changeVisErr != nil {
		return nil, f.changeVisErr
	}
	return &sqs.ChangeMessageVisibilityBatchOutput{}, nil
}

func newTestManager(t *testing.T, client *fakeQueueClient, deleteOnSuccess, extendVisibility bool) *Manager {
	t.Helper()
	facade := queue.New(client)
	registry := NewRegistry(nil)
	RegisterTyped(registry, "Test.Message", func(ctx context.Context, payload chatMessage, meta TransportMetadata, scope *Scope) HandlerResult {
		if payload.Text == "fail" {
			return HandlerResult{Outcome: Failed, Error: assertErr}
		}
		return HandlerResult{Outcome: Completed}
	})
	return NewManager(facade, registry, "https://sqs.us-east-1.amazonaws.com/123/q", 10, 30, 5*time.Second, time.Second, deleteOnSuccess, extendVisibility, nil)
}

var assertErr = assertError("handler failed")

type assertError string

func (e assertError) Error() string { return string(e) }

func testMessage(id, receiptHandle, text string) sqstypes.Message {
	env := &Envelope{
		ID:              "env-" + id,
		Source:          "/aws/messaging",
		SpecVersion:     "1.0",
		Type:            "Test.Message",
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            json.RawMessage(`{"text":"` + text + `"}`),
	}
	raw, err := Encode(context.Background(), env, nil)
	if err != nil {
		panic(err)
	}
	return sqstypes.Message{
		MessageId:     aws.String(id),
		ReceiptHandle: aws.String(receiptHandle),
		Body:          aws.String(string(raw)),
	}
}

func TestManager_Process_CompletedDeletesMessage(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)

	result := m.Process(context.Background(), testMessage("m1", "rh1", "ok"))
	assert.Equal(t, Completed, result.Outcome)
	require.Len(t, client.deleteCalls, 1)
	assert.Equal(t, []string{"m1"}, client.deleteCalls[0])
}

func TestManager_Process_FailedDoesNotDelete(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)

	result := m.Process(context.Background(), testMessage("m1", "rh1", "fail"))
	assert.Equal(t, Failed, result.Outcome)
	assert.Empty(t, client.deleteCalls)
}

func TestManager_Process_DeleteOnSuccessFalseSkipsDelete(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, false, false)

	result := m.Process(context.Background(), testMessage("m1", "rh1", "ok"))
	assert.Equal(t, Completed, result.Outcome)
	assert.Empty(t, client.deleteCalls)
}

func TestManager_Process_MissingReceiptHandle(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)

	msg := testMessage("m1", "rh1", "ok")
	msg.ReceiptHandle = nil
	result := m.Process(context.Background(), msg)
	assert.ErrorIs(t, result.Error, ErrMissingReceiptHandle)
}

func TestManager_Process_TracksAndUntracksInFlightRecord(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, true)

	assert.True(t, m.tracker.isEmpty())
	m.Process(context.Background(), testMessage("m1", "rh1", "ok"))
	assert.True(t, m.tracker.isEmpty(), "record must be removed once Process returns")
}

func TestManager_CapacityAcquireRelease(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)
	m.maxConcurrent = 1

	require.EqualValues(t, 1, m.capacity())
	require.True(t, m.tryAcquire())
	require.EqualValues(t, 0, m.capacity())
	require.False(t, m.tryAcquire())
	m.release()
	require.EqualValues(t, 1, m.capacity())
}

func TestManager_WaitForCapacity_UnblocksOnRelease(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)
	m.maxConcurrent = 1
	require.True(t, m.tryAcquire())

	done := make(chan error, 1)
	go func() {
		done <- m.waitForCapacity(context.Background())
	}()

	select {
	case <-done:
		t.Fatalf("waitForCapacity returned before a slot was freed")
	case <-time.After(20 * time.Millisecond):
	}

	m.release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatalf("waitForCapacity did not unblock after release")
	}
}

func TestManager_WaitForCapacity_RespectsContextCancellation(t *testing.T) {
	client := &fakeQueueClient{}
	m := newTestManager(t, client, true, false)
	m.maxConcurrent = 1
	require.True(t, m.tryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.waitForCapacity(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
