package actions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lucid-vigil/ransomguard/pkg/actions/delete_file"
	"github.com/lucid-vigil/ransomguard/pkg/actions/kill_process"
	"github.com/rs/zerolog/log"
)

// ActionDispatcher manages and executes mitigation actions
type ActionDispatcher struct {
	actions map[string]Action
	enabled bool
	mu      sync.RWMutex
}

// NewActionDispatcher creates a new action dispatcher with the built-in
// actions registered.
func NewActionDispatcher(enabled bool) *ActionDispatcher {
	dispatcher := &ActionDispatcher{
		actions: make(map[string]Action),
		enabled: enabled,
	}

	// Register built-in actions
	dispatcher.RegisterAction(&kill_process.KillProcessAction{})
	dispatcher.RegisterAction(&kill_process.KillByNameAction{})
	dispatcher.RegisterAction(&delete_file.DeleteFileAction{})

	return dispatcher
}

// RegisterAction registers a new action with the dispatcher, replacing any
// action of the same name.
func (ad *ActionDispatcher) RegisterAction(action Action) {
	ad.mu.Lock()
	defer ad.mu.Unlock()

	ad.actions[action.Name()] = action
	log.Debug().Msgf("Action '%s' registered.", action.Name())
}

// Execute runs the specified action with the given data. When actions are
// disabled it returns ErrActionsDisabled without touching the system.
func (ad *ActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	ad.mu.RLock()
	action, exists := ad.actions[actionName]
	enabled := ad.enabled
	ad.mu.RUnlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownAction, actionName)
	}
	if !enabled {
		return ErrActionsDisabled
	}

	log.Debug().Str("action", actionName).Msg("Executing mitigation action...")
	return action.Execute(ctx, data)
}

// Names returns the registered action names in sorted order.
func (ad *ActionDispatcher) Names() []string {
	ad.mu.RLock()
	defer ad.mu.RUnlock()

	names := make([]string, 0, len(ad.actions))
	for name := range ad.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsEnabled returns whether actions are enabled
func (ad *ActionDispatcher) IsEnabled() bool {
	ad.mu.RLock()
	defer ad.mu.RUnlock()
	return ad.enabled
}

// SetEnabled enables or disables action execution
func (ad *ActionDispatcher) SetEnabled(enabled bool) {
	ad.mu.Lock()
	ad.enabled = enabled
	ad.mu.Unlock()
	log.Info().Bool("enabled", enabled).Msg("Action execution status changed.")
}
