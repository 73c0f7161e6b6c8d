// Package queue wraps the managed queue service's batch RPCs behind a small
// facade that classifies every service error as fatal or transient, so
// callers never have to inspect service-specific error codes themselves.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

// batchLimit is the number of entries the queue service accepts per batch
// delete/change-visibility call; larger sets are split into chunks of this size.
const batchLimit = 10

// Client is the subset of the queue service's API the facade needs. Scoped
// this way so tests can supply an in-memory fake instead of a live client.
type Client interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, params *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// Facade is a thin, error-classifying wrapper over Client.
type Facade struct {
	client Client
}

// New builds a Facade around an existing queue service client.
func New(client Client) *Facade {
	return &Facade{client: client}
}

// VisibilityEntry is one (receipt handle, new timeout) pair for a batch
// change-visibility call.
type VisibilityEntry struct {
	ID                string
	ReceiptHandle     string
	VisibilitySeconds int32
}

// classify turns a raw service error into ErrFatal or ErrTransient, logging
// it either way. A nil error classifies as nil.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && fatalErrorCodes[apiErr.ErrorCode()] {
		log.Printf("ERROR: %s: fatal queue error %s: %v", op, apiErr.ErrorCode(), err)
		return fmt.Errorf("%w: %s: %v", ErrFatal, op, err)
	}
	log.Printf("WARN: %s: transient queue error: %v", op, err)
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}

// Receive performs one long-poll receive. On a fatal error it returns the
// wrapped error; on a transient error it logs and returns (nil, nil) so the
// caller treats it exactly like a legitimately empty batch.
func (f *Facade) Receive(ctx context.Context, queueURL string, maxMessages, waitSeconds, visibilitySeconds int32) ([]types.Message, error) {
	out, err := f.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(queueURL),
		MaxNumberOfMessages: maxMessages,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   visibilitySeconds,
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameAll,
		},
	})
	if err != nil {
		classified := classify("receive", err)
		if errors.Is(classified, ErrFatal) {
			return nil, classified
		}
		return nil, nil
	}
	return out.Messages, nil
}

// DeleteBatch deletes the given receipt handles, splitting into chunks of
// batchLimit. It returns the ids of entries the service reported as failed;
// per-entry failures are logged, never returned as an error.
func (f *Facade) DeleteBatch(ctx context.Context, queueURL string, handles map[string]string) []string {
	var failed []string
	for _, chunk := range chunkIDs(handles, batchLimit) {
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, len(chunk))
		for _, id := range chunk {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(id),
				ReceiptHandle: aws.String(handles[id]),
			})
		}
		out, err := f.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  entries,
		})
		if err != nil {
			classify("delete_batch", err)
			failed = append(failed, chunk...)
			continue
		}
		for _, fail := range out.Failed {
			id := aws.ToString(fail.Id)
			log.Printf("WARN: delete_batch: entry %s failed: %s", id, aws.ToString(fail.Message))
			failed = append(failed, id)
		}
	}
	return failed
}

// ChangeVisibilityBatch extends visibility for the given entries, splitting
// into chunks of batchLimit. Failures are logged and returned by id, never
// raised as an error.
func (f *Facade) ChangeVisibilityBatch(ctx context.Context, queueURL string, entries []VisibilityEntry) []string {
	var failed []string
	for _, chunk := range chunkEntries(entries, batchLimit) {
		reqEntries := make([]types.ChangeMessageVisibilityBatchRequestEntry, 0, len(chunk))
		for _, e := range chunk {
			reqEntries = append(reqEntries, types.ChangeMessageVisibilityBatchRequestEntry{
				Id:                aws.String(e.ID),
				ReceiptHandle:     aws.String(e.ReceiptHandle),
				VisibilityTimeout: e.VisibilitySeconds,
			})
		}
		out, err := f.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  reqEntries,
		})
		if err != nil {
			classify("change_visibility_batch", err)
			for _, e := range chunk {
				failed = append(failed, e.ID)
			}
			continue
		}
		for _, fail := range out.Failed {
			id := aws.ToString(fail.Id)
			log.Printf("WARN: change_visibility_batch: entry %s failed: %s", id, aws.ToString(fail.Message))
			failed = append(failed, id)
		}
	}
	return failed
}

// ResolveQueueURLFromARN builds a queue URL lexically from an SQS ARN,
// without calling the service. Used only by the serverless entry adapter,
// which is handed an ARN by the host runtime instead of a URL.
func ResolveQueueURLFromARN(arn string) (string, error) {
	// arn:{partition}:sqs:{region}:{account}:{name}
	var parts [6]string
	rest := arn
	for i := 0; i < 5; i++ {
		idx := indexByte(rest, ':')
		if idx < 0 {
			return "", fmt.Errorf("resolve_queue_url_from_arn: malformed arn %q", arn)
		}
		parts[i] = rest[:idx]
		rest = rest[idx+1:]
	}
	parts[5] = rest
	if parts[0] != "arn" || parts[2] != "sqs" || parts[4] == "" || parts[5] == "" {
		return "", fmt.Errorf("resolve_queue_url_from_arn: malformed arn %q", arn)
	}
	region, account, name := parts[3], parts[4], parts[5]
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", region, account, name), nil
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func chunkIDs(handles map[string]string, size int) [][]string {
	ids := make([]string, 0, len(handles))
	for id := range handles {
		ids = append(ids, id)
	}
	var chunks [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

func chunkEntries(entries []VisibilityEntry, size int) [][]VisibilityEntry {
	var chunks [][]VisibilityEntry
	for len(entries) > 0 {
		n := size
		if n > len(entries) {
			n = len(entries)
		}
		chunks = append(chunks, entries[:n])
		entries = entries[n:]
	}
	return chunks
}
