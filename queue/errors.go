package queue

import "errors"

var (
	// ErrFatal marks a service error the caller must stop on (bad queue
	// address, missing permission). Never retried by the facade.
	ErrFatal = errors.New("fatal queue error")
	// ErrTransient marks a service error the facade already logged and
	// swallowed; callers see it only through an empty result.
	ErrTransient = errors.New("transient queue error")
)

// fatalErrorCodes are the service error codes that must stop the poller
// rather than be retried. Anything else is treated as transient.
var fatalErrorCodes = map[string]bool{
	"InvalidAddress": true,
	"AccessDenied":   true,
}
