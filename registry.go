package subscriber

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/hatsunemiku3939/subscriber/internal/jsonschema"
)

// Outcome is the result of a single handler invocation.
type Outcome int

const (
	// Completed indicates the handler processed the message successfully;
	// the Manager deletes the message (when DeleteOnSuccess is set).
	Completed Outcome = iota
	// Failed indicates the handler could not process the message; the
	// Manager leaves it on the queue for natural redelivery.
	Failed
)

// String renders the Outcome for log lines.
func (o Outcome) String() string {
	if o == Completed {
		return "COMPLETED"
	}
	return "FAILED"
}

// HandlerResult is returned by every Handler invocation.
type HandlerResult struct {
	Outcome Outcome
	Error   error
}

// Handler processes one decoded Envelope. Scope carries per-invocation
// dependencies derived from the Registry's root Container.
type Handler func(ctx context.Context, env *Envelope, meta TransportMetadata, scope *Scope) HandlerResult

// Container holds process-wide dependencies (database handles, HTTP clients,
// feature flags) that every handler invocation can read. It is built once at
// startup and never mutated afterward; Scope.Value reads through to it.
type Container struct {
	values map[string]any
}

// NewContainer builds an immutable Container from the given key/value pairs.
func NewContainer(values map[string]any) *Container {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Container{values: copied}
}

// Scope is the per-invocation handle passed to every Handler. It exposes the
// root Container plus the value attached for this single invocation (the
// resolved type identifier).
type Scope struct {
	container      *Container
	TypeIdentifier string
}

// Value reads a dependency registered on the root Container. ok is false if
// no value was registered under key.
func (s *Scope) Value(key string) (any, bool) {
	if s.container == nil {
		return nil, false
	}
	v, ok := s.container.values[key]
	return v, ok
}

// Registry resolves a decoded Envelope's Type to a registered Handler,
// gating dispatch behind an optional per-type JSON Schema. Safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	handlers  map[string]Handler
	schemas   map[string]jsonschema.Loader
	container *Container
}

// NewRegistry builds an empty Registry bound to container. A nil container
// is replaced with an empty one so Scope.Value never panics.
func NewRegistry(container *Container) *Registry {
	if container == nil {
		container = NewContainer(nil)
	}
	return &Registry{
		handlers:  make(map[string]Handler),
		schemas:   make(map[string]jsonschema.Loader),
		container: container,
	}
}

// Register binds h to typeIdentifier, replacing any previously registered
// handler for the same identifier.
func (r *Registry) Register(typeIdentifier string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typeIdentifier] = h
}

// RegisterTyped binds fn to typeIdentifier with compile-time payload typing:
// Invoke unmarshals the decoded Envelope's Data into a T before calling fn.
// This is the idiomatic replacement for reflection-based dynamic dispatch.
func RegisterTyped[T any](r *Registry, typeIdentifier string, fn func(ctx context.Context, payload T, meta TransportMetadata, scope *Scope) HandlerResult) {
	r.Register(typeIdentifier, func(ctx context.Context, env *Envelope, meta TransportMetadata, scope *Scope) HandlerResult {
		var payload T
		if len(env.Data) == 0 {
			return HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: type %s expects a JSON payload, got none", ErrHandlerSignatureInvalid, typeIdentifier)}
		}
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			return HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: type %s: %v", ErrHandlerSignatureInvalid, typeIdentifier, err)}
		}
		return fn(ctx, payload, meta, scope)
	})
}

// RegisterSchema gates dispatch for typeIdentifier behind schema: Invoke
// validates the Envelope's raw Data against it before calling the handler.
func (r *Registry) RegisterSchema(typeIdentifier, schema string) error {
	loader := jsonschema.NewStringLoader(schema)
	if _, err := jsonschema.NewSchema(loader); err != nil {
		return fmt.Errorf("%w for %s: %v", ErrInvalidConfiguration, typeIdentifier, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[typeIdentifier] = loader
	return nil
}

// registeredTypes returns the sorted set of type identifiers with a
// registered handler, used only for diagnostic logging on a dispatch miss.
func (r *Registry) registeredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		types = append(types, k)
	}
	sort.Strings(types)
	return types
}

// Invoke resolves env.Type to a registered Handler and calls it, recovering
// any panic into a Failed outcome (the same outer guard sqsrouter's Route
// applies around coreRoute).
func (r *Registry) Invoke(ctx context.Context, env *Envelope, meta TransportMetadata) (result HandlerResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("❌ FAILURE handler panic for type=%s: %v", env.Type, rec)
			result = HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: handler panic: %v", ErrHandlerNotRegistered, rec)}
		}
	}()

	r.mu.RLock()
	handler, handlerExists := r.handlers[env.Type]
	schemaLoader, schemaExists := r.schemas[env.Type]
	r.mu.RUnlock()

	if schemaExists {
		res, err := jsonschema.Validate(schemaLoader, jsonschema.NewBytesLoader(env.Data))
		if validationErr := jsonschema.FormatErrors(res, err); validationErr != nil {
			return HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: %v", ErrMalformedEnvelope, validationErr)}
		}
	}

	if !handlerExists {
		log.Printf("❌ FAILURE unknown type=%s (registered: %v)", env.Type, r.registeredTypes())
		return HandlerResult{Outcome: Failed, Error: fmt.Errorf("%w: %s", ErrUnknownType, env.Type)}
	}

	scope := &Scope{container: r.container, TypeIdentifier: env.Type}
	return handler(ctx, env, meta, scope)
}
