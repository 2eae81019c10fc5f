// ABOUTME: Explicit command registry mapping command names to handlers
// ABOUTME: Built once at startup; the only callable entry points into the core

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

// Registry errors
var (
	// ErrUnknownCommand is returned when calling a name that was never registered.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrDuplicateCommand is returned when registering a name twice.
	ErrDuplicateCommand = errors.New("command already registered")
)

// Handler executes one command. params is the raw JSON the caller supplied;
// each command unmarshals its own request shape.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Registry maps command-name strings to handler functions. It is built at
// startup and read-only afterwards, so calls need no locking.
type Registry struct {
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewRegistry creates an empty command registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "commands"),
	}
}

// Register binds a handler to a command name.
func (r *Registry) Register(name string, h Handler) error {
	if _, exists := r.handlers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	r.handlers[name] = h
	return nil
}

// Call dispatches a command by name.
func (r *Registry) Call(ctx context.Context, name string, params json.RawMessage) (any, error) {
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	r.logger.Debug("command dispatched", "command", name)
	result, err := h(ctx, params)
	if err != nil {
		r.logger.Warn("command failed", "command", name, "error", err)
		return nil, err
	}
	return result, nil
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
