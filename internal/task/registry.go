package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/phrazzld/dispatch/internal/domain"
)

// Registry errors
var (
	// ErrHandlerNameEmpty is returned when registering a handler without a name.
	ErrHandlerNameEmpty = errors.New("handler name cannot be empty")

	// ErrHandlerNil is returned when registering a nil handler.
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrHandlerAlreadyRegistered is returned when a name is registered twice.
	ErrHandlerAlreadyRegistered = errors.New("handler already registered")

	// ErrHandlerNotRegistered is returned when a task names a handler the
	// registry does not know. Enqueue rejects such tasks synchronously.
	ErrHandlerNotRegistered = errors.New("handler not registered")
)

// HandlerFunc is the canonical handler signature: it receives the task's
// stored argument envelope and returns a JSON-serializable result, or an
// error to trigger the retry policy.
type HandlerFunc func(ctx context.Context, payload domain.Payload) (json.RawMessage, error)

// Registry maps task names to executable handlers. It is process-local:
// handlers must be registered before the queue starts executing tasks with
// that name. Construct one explicitly and share it between producers and
// the queue rather than relying on package-level state.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register associates a name with a handler. Registering an empty name, a
// nil handler, or a name that is already taken is an error.
func (r *Registry) Register(name string, handler HandlerFunc) error {
	if name == "" {
		return ErrHandlerNameEmpty
	}
	if handler == nil {
		return fmt.Errorf("%w: %q", ErrHandlerNil, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %q", ErrHandlerAlreadyRegistered, name)
	}

	r.handlers[name] = handler
	return nil
}

// Resolve returns the handler registered under the given name.
func (r *Registry) Resolve(name string) (HandlerFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handler, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrHandlerNotRegistered, name)
	}
	return handler, nil
}

// Registered reports whether a handler exists for the given name.
func (r *Registry) Registered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.handlers[name]
	return ok
}

// Names returns the registered handler names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
