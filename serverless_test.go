package subscriber

import (
	"context"
	"testing"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/subscriber/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServerlessAdapter(t *testing.T, client *fakeQueueClient, opts ...ServerlessOption) *ServerlessAdapter {
	t.Helper()
	facade := queue.New(client)
	registry := NewRegistry(nil)
	RegisterTyped(registry, "Test.Message", func(ctx context.Context, payload chatMessage, meta TransportMetadata, scope *Scope) HandlerResult {
		if payload.Text == "fail" {
			return HandlerResult{Outcome: Failed, Error: assertErr}
		}
		return HandlerResult{Outcome: Completed}
	})
	cfg, err := NewServerlessConfig("https://sqs.us-east-1.amazonaws.com/123/q", opts...)
	require.NoError(t, err)
	return NewServerlessAdapter(facade, registry, cfg, nil)
}

func TestServerlessAdapter_EmptyBatchReturnsEmptyResponseNoReceive(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithBatchResponse())

	resp, err := a.Handle(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Empty(t, resp.FailedMessageIDs)
	assert.Empty(t, client.deleteCalls)
	assert.Empty(t, client.visCalls)
	assert.Zero(t, client.receiveCalls)
}

func TestServerlessAdapter_DeletesOnSuccessWhenNotUsingBatchResponse(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithServerlessDeleteOnSuccess(true))

	resp, err := a.Handle(context.Background(), []sqstypes.Message{testMessage("m1", "rh1", "ok")})
	require.NoError(t, err)
	assert.Nil(t, resp, "no BatchResponse is returned unless UseBatchResponse is set")
	require.Len(t, client.deleteCalls, 1)
	assert.Equal(t, []string{"m1"}, client.deleteCalls[0])
}

func TestServerlessAdapter_FailedMessageNotDeletedWhenNotUsingBatchResponse(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithServerlessDeleteOnSuccess(true))

	_, err := a.Handle(context.Background(), []sqstypes.Message{testMessage("m1", "rh1", "fail")})
	require.NoError(t, err)
	assert.Empty(t, client.deleteCalls)
}

// TestServerlessAdapter_BatchResponse_ReportsFailuresAndExtendsVisibility is
// scenario S6: 3 messages, outcomes Success/Failed/Success, UseBatchResponse
// true, VisibilityTimeoutForBatchFailures=0. Expect the failure list to name
// exactly the second message, a ChangeVisibilityBatch call with visibility 0
// for it, and no Receive call.
func TestServerlessAdapter_BatchResponse_ReportsFailuresAndExtendsVisibility(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithBatchResponse(), WithVisibilityTimeoutForBatchFailures(0))

	batch := []sqstypes.Message{
		testMessage("m1", "rh1", "ok"),
		testMessage("m2", "rh2", "fail"),
		testMessage("m3", "rh3", "ok"),
	}
	resp, err := a.Handle(context.Background(), batch)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, []string{"m2"}, resp.FailedMessageIDs)
	assert.Empty(t, client.deleteCalls, "serverless adapter defaults to DeleteOnSuccess=false; the host deletes")

	require.Len(t, client.visCalls, 1)
	assert.Equal(t, []string{"m2"}, client.visCalls[0])
	assert.Equal(t, [][]int32{{0}}, client.visTimeouts)
	assert.Zero(t, client.receiveCalls)
}

func TestServerlessAdapter_BatchResponse_NoVisibilityChangeWhenNotConfigured(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithBatchResponse())

	batch := []sqstypes.Message{
		testMessage("m1", "rh1", "fail"),
	}
	resp, err := a.Handle(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, resp.FailedMessageIDs)
	assert.Empty(t, client.visCalls)
}

func TestServerlessAdapter_FIFO_StopsGroupAfterFailure(t *testing.T) {
	client := &fakeQueueClient{}
	a := newTestServerlessAdapter(t, client, WithServerlessFIFO(2), WithBatchResponse())

	batch := []sqstypes.Message{
		fifoMessage("a1", "A", "ok"),
		fifoMessage("a2", "A", "fail"),
		fifoMessage("a3", "A", "ok"),
	}
	resp, err := a.Handle(context.Background(), batch)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a2", "a3"}, resp.FailedMessageIDs, "a3 is reported failed: never dispatched after a2 failed")
}
