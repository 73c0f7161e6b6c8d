package subscriber

import (
	"fmt"
	"time"

	"github.com/hatsunemiku3939/subscriber/internal/backoff"
)

// SubscriptionConfig configures a long-running Poller + Manager pair bound
// to one queue. Built through SubscriptionOption and validated once, at
// construction (NewSubscriptionConfig).
type SubscriptionConfig struct {
	QueueURL                             string
	MaxMessagesPerReceive                int32
	WaitTimeSeconds                      int32
	VisibilityTimeoutSeconds             int32
	VisibilityExtensionThreshold         time.Duration
	VisibilityExtensionHeartbeatInterval time.Duration
	MaxConcurrentMessages                int
	IsFIFO                               bool
	MaxConcurrentGroups                  int
	DeleteOnSuccess                      bool
	BackoffPolicy                        backoff.Policy
}

// SubscriptionOption mutates a SubscriptionConfig at construction time.
type SubscriptionOption func(*SubscriptionConfig)

// WithMaxMessagesPerReceive caps how many messages a single Receive call
// requests (SQS allows at most 10).
func WithMaxMessagesPerReceive(n int32) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.MaxMessagesPerReceive = n }
}

// WithWaitTimeSeconds sets the long-poll wait on each Receive call.
func WithWaitTimeSeconds(n int32) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.WaitTimeSeconds = n }
}

// WithVisibilityTimeoutSeconds sets the initial visibility timeout requested
// on receive.
func WithVisibilityTimeoutSeconds(n int32) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.VisibilityTimeoutSeconds = n }
}

// WithVisibilityExtensionThreshold sets how far ahead of expiry the
// heartbeat loop extends an in-flight record's visibility.
func WithVisibilityExtensionThreshold(d time.Duration) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.VisibilityExtensionThreshold = d }
}

// WithVisibilityExtensionHeartbeatInterval sets how often the heartbeat loop
// wakes to check for in-flight records nearing expiry.
func WithVisibilityExtensionHeartbeatInterval(d time.Duration) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.VisibilityExtensionHeartbeatInterval = d }
}

// WithMaxConcurrentMessages caps how many non-FIFO messages Process runs at
// once.
func WithMaxConcurrentMessages(n int) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.MaxConcurrentMessages = n }
}

// WithFIFO marks the bound queue as a FIFO queue, routing received batches
// through the group scheduler instead of flat concurrent dispatch.
func WithFIFO(maxConcurrentGroups int) SubscriptionOption {
	return func(c *SubscriptionConfig) {
		c.IsFIFO = true
		c.MaxConcurrentGroups = maxConcurrentGroups
	}
}

// WithDeleteOnSuccess controls whether Manager.Process deletes a message
// after a Completed outcome. Defaults to true.
func WithDeleteOnSuccess(del bool) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.DeleteOnSuccess = del }
}

// WithBackoffPolicy overrides the default CappedExponential backoff policy
// used between empty-receive iterations.
func WithBackoffPolicy(p backoff.Policy) SubscriptionOption {
	return func(c *SubscriptionConfig) { c.BackoffPolicy = p }
}

// defaultSubscriptionConfig matches SQS's own defaults for long-poll wait
// and visibility timeout (20s wait, 30s visibility).
func defaultSubscriptionConfig() SubscriptionConfig {
	return SubscriptionConfig{
		MaxMessagesPerReceive:                10,
		WaitTimeSeconds:                      20,
		VisibilityTimeoutSeconds:             30,
		VisibilityExtensionThreshold:         5 * time.Second,
		VisibilityExtensionHeartbeatInterval: time.Second,
		MaxConcurrentMessages:                10,
		MaxConcurrentGroups:                  1,
		DeleteOnSuccess:                      true,
		BackoffPolicy:                        backoff.NewCappedExponential(backoff.DefaultBase, backoff.DefaultCap),
	}
}

// NewSubscriptionConfig builds a SubscriptionConfig for queueURL, applying
// opts over the package defaults and validating the result.
func NewSubscriptionConfig(queueURL string, opts ...SubscriptionOption) (SubscriptionConfig, error) {
	cfg := defaultSubscriptionConfig()
	cfg.QueueURL = queueURL
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return SubscriptionConfig{}, err
	}
	return cfg, nil
}

func (c SubscriptionConfig) validate() error {
	switch {
	case c.QueueURL == "":
		return fmt.Errorf("%w: queue URL is required", ErrInvalidConfiguration)
	case c.MaxMessagesPerReceive < 1 || c.MaxMessagesPerReceive > 10:
		return fmt.Errorf("%w: MaxMessagesPerReceive must be between 1 and 10", ErrInvalidConfiguration)
	case c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20:
		return fmt.Errorf("%w: WaitTimeSeconds must be between 0 and 20", ErrInvalidConfiguration)
	case c.VisibilityTimeoutSeconds < 1:
		return fmt.Errorf("%w: VisibilityTimeoutSeconds must be positive", ErrInvalidConfiguration)
	case c.VisibilityExtensionThreshold <= 0:
		return fmt.Errorf("%w: VisibilityExtensionThreshold must be positive", ErrInvalidConfiguration)
	case c.VisibilityExtensionHeartbeatInterval <= 0:
		return fmt.Errorf("%w: VisibilityExtensionHeartbeatInterval must be positive", ErrInvalidConfiguration)
	case c.MaxConcurrentMessages < 1:
		return fmt.Errorf("%w: MaxConcurrentMessages must be positive", ErrInvalidConfiguration)
	case c.IsFIFO && c.MaxConcurrentGroups < 1:
		return fmt.Errorf("%w: MaxConcurrentGroups must be positive for a FIFO queue", ErrInvalidConfiguration)
	case c.BackoffPolicy == nil:
		return fmt.Errorf("%w: BackoffPolicy must not be nil", ErrInvalidConfiguration)
	}
	return nil
}

// ServerlessConfig configures a ServerlessAdapter bound to one queue, used
// by a host-delivered-batch entry point instead of a long-running Poller.
type ServerlessConfig struct {
	QueueURL                          string
	MaxConcurrentMessages             int
	IsFIFO                            bool
	MaxConcurrentGroups               int
	DeleteOnSuccess                   bool
	UseBatchResponse                  bool
	VisibilityTimeoutForBatchFailures *int32
}

// ServerlessOption mutates a ServerlessConfig at construction time.
type ServerlessOption func(*ServerlessConfig)

// WithServerlessMaxConcurrentMessages caps how many messages in one batch
// are processed concurrently.
func WithServerlessMaxConcurrentMessages(n int) ServerlessOption {
	return func(c *ServerlessConfig) { c.MaxConcurrentMessages = n }
}

// WithServerlessFIFO marks the bound queue as FIFO for the serverless
// adapter, identical in effect to WithFIFO for the Poller path.
func WithServerlessFIFO(maxConcurrentGroups int) ServerlessOption {
	return func(c *ServerlessConfig) {
		c.IsFIFO = true
		c.MaxConcurrentGroups = maxConcurrentGroups
	}
}

// WithServerlessDeleteOnSuccess controls whether a Completed outcome deletes
// the message. Defaults to false.
func WithServerlessDeleteOnSuccess(del bool) ServerlessOption {
	return func(c *ServerlessConfig) { c.DeleteOnSuccess = del }
}

// WithBatchResponse enables returning the ids of failed messages in a
// BatchResponse. Whether successes are deleted is still governed by
// DeleteOnSuccess alone.
func WithBatchResponse() ServerlessOption {
	return func(c *ServerlessConfig) { c.UseBatchResponse = true }
}

// WithVisibilityTimeoutForBatchFailures sets the visibility timeout applied
// to failed message ids before they are returned in a BatchResponse. Unlike
// a bare int32 field, a nil VisibilityTimeoutForBatchFailures distinguishes
// "not configured" from an explicit 0.
func WithVisibilityTimeoutForBatchFailures(seconds int32) ServerlessOption {
	return func(c *ServerlessConfig) { c.VisibilityTimeoutForBatchFailures = &seconds }
}

// defaultServerlessConfig defaults DeleteOnSuccess to false: a serverless
// host typically deletes the message itself on a successful invocation,
// unlike defaultSubscriptionConfig's true default for the long-running
// Poller path.
func defaultServerlessConfig() ServerlessConfig {
	return ServerlessConfig{
		MaxConcurrentMessages: 10,
		MaxConcurrentGroups:   1,
		DeleteOnSuccess:       false,
	}
}

// NewServerlessConfig builds a ServerlessConfig for queueURL, applying opts
// over the package defaults and validating the result.
func NewServerlessConfig(queueURL string, opts ...ServerlessOption) (ServerlessConfig, error) {
	cfg := defaultServerlessConfig()
	cfg.QueueURL = queueURL
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return ServerlessConfig{}, err
	}
	return cfg, nil
}

func (c ServerlessConfig) validate() error {
	switch {
	case c.QueueURL == "":
		return fmt.Errorf("%w: queue URL is required", ErrInvalidConfiguration)
	case c.MaxConcurrentMessages < 1:
		return fmt.Errorf("%w: MaxConcurrentMessages must be positive", ErrInvalidConfiguration)
	case c.IsFIFO && c.MaxConcurrentGroups < 1:
		return fmt.Errorf("%w: MaxConcurrentGroups must be positive for a FIFO queue", ErrInvalidConfiguration)
	case c.VisibilityTimeoutForBatchFailures != nil && *c.VisibilityTimeoutForBatchFailures < 0:
		return fmt.Errorf("%w: VisibilityTimeoutForBatchFailures must not be negative", ErrInvalidConfiguration)
	}
	return nil
}
