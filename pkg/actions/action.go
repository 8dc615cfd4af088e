package actions

import (
	"context"
	"errors"
)

// Action defines the interface for any mitigation the detector can take.
// Each action must have a name and an execution method.
type Action interface {
	// Name returns the unique name of the action.
	Name() string
	// Execute performs the action. It is passed a context for cancellation and a
	// map of data that can contain any relevant information (e.g., PID to kill, path to delete).
	Execute(ctx context.Context, data map[string]interface{}) error
}

var (
	// ErrActionsDisabled is returned by the dispatcher in dry-run mode.
	ErrActionsDisabled = errors.New("actions are disabled")
	// ErrUnknownAction is returned for names that were never registered.
	ErrUnknownAction = errors.New("action not found")
)
