// Package actions executes action plans: a registry maps action kinds to
// handlers, the executor walks the plan DAG, and every effect returns a
// compensation handle so completed work can be rolled back.
package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/majordome-ai/majordome/pkg/models"
)

// ErrNoHandler means the plan references an action kind nothing can run.
var ErrNoHandler = errors.New("no handler registered for action kind")

// CompensationHandle undoes a completed action's effect.
type CompensationHandle interface {
	Rollback(ctx context.Context) error
}

// CompensationFunc adapts a function to a CompensationHandle.
type CompensationFunc func(ctx context.Context) error

// Rollback runs the function.
func (f CompensationFunc) Rollback(ctx context.Context) error { return f(ctx) }

// NoCompensation is the handle for effects with nothing to undo.
var NoCompensation CompensationHandle = CompensationFunc(func(context.Context) error { return nil })

// Handler executes one kind of planned action.
type Handler interface {
	Kind() models.ActionKind
	Execute(ctx context.Context, action models.PlannedAction) (CompensationHandle, error)
}

// HandlerFunc adapts a function to a Handler for a fixed kind.
type HandlerFunc struct {
	ActionKind models.ActionKind
	Fn         func(ctx context.Context, action models.PlannedAction) (CompensationHandle, error)
}

// Kind returns the handled action kind.
func (h HandlerFunc) Kind() models.ActionKind { return h.ActionKind }

// Execute runs the function.
func (h HandlerFunc) Execute(ctx context.Context, action models.PlannedAction) (CompensationHandle, error) {
	return h.Fn(ctx, action)
}

// Registry maps action kinds to their handlers.
type Registry struct {
	handlers map[models.ActionKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.ActionKind]Handler)}
}

// Register adds a handler. Registering a kind twice is a wiring bug.
func (r *Registry) Register(h Handler) error {
	if _, dup := r.handlers[h.Kind()]; dup {
		return fmt.Errorf("handler for %s already registered", h.Kind())
	}
	r.handlers[h.Kind()] = h
	return nil
}

// Resolve returns the handler for a kind.
func (r *Registry) Resolve(kind models.ActionKind) (Handler, error) {
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}
	return h, nil
}

// Kinds returns the registered action kinds.
func (r *Registry) Kinds() []models.ActionKind {
	kinds := make([]models.ActionKind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}
