package subscriber

import "errors"

// Sentinel errors surfaced to callers through the package's exported API.
var (
	// ErrMalformedEnvelope indicates the raw message did not decode into a
	// well-formed Envelope (missing required field, invalid payload schema).
	ErrMalformedEnvelope = errors.New("malformed envelope")
	// ErrUnknownType indicates the envelope's Type has no registered handler;
	// Invoke logs the full set of registered types alongside it.
	ErrUnknownType = errors.New("unknown message type")
	// ErrCodecFailure indicates a codec hook returned an error.
	ErrCodecFailure = errors.New("codec failure")
	// ErrHandlerNotRegistered indicates a handler invocation could not run to
	// completion at all (a recovered panic), distinct from ErrUnknownType's
	// "no handler matched".
	ErrHandlerNotRegistered = errors.New("handler not registered")
	// ErrHandlerSignatureInvalid indicates the registered handler's message
	// type could not accept the decoded payload shape.
	ErrHandlerSignatureInvalid = errors.New("handler signature invalid")
	// ErrFatalQueueError indicates the queue service returned a fatal error
	// (bad address, missing permission); the poller must stop.
	ErrFatalQueueError = errors.New("fatal queue error")
	// ErrTransientQueueError indicates a recoverable queue service error.
	ErrTransientQueueError = errors.New("transient queue error")
	// ErrMissingReceiptHandle indicates a message arrived without a receipt
	// handle, so it cannot be deleted or have its visibility extended.
	ErrMissingReceiptHandle = errors.New("missing receipt handle")
	// ErrInvalidConfiguration indicates a SubscriptionConfig or
	// ServerlessConfig field failed validation at construction time.
	ErrInvalidConfiguration = errors.New("invalid configuration")
	// ErrCancelledDuringProcessing indicates a message's processing was
	// cancelled: the caller's context was canceled before its handler ran,
	// or (serverless FIFO path) it was not dispatched because its context
	// was done or an earlier message in its group failed.
	ErrCancelledDuringProcessing = errors.New("cancelled during processing")
)
