// Package testutil holds shared test doubles for the detector packages.
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// LogCapture is a helper to capture zerolog output for testing.
type LogCapture struct {
	sync.Mutex
	logs []string
}

func (lc *LogCapture) Write(p []byte) (n int, err error) {
	lc.Lock()
	defer lc.Unlock()
	lc.logs = append(lc.logs, string(p))
	return len(p), nil
}

func (lc *LogCapture) GetLogs() []string {
	lc.Lock()
	defer lc.Unlock()
	out := make([]string, len(lc.logs))
	copy(out, lc.logs)
	return out
}

// Count returns how many captured lines contain every one of substrs.
func (lc *LogCapture) Count(substrs ...string) int {
	n := 0
	for _, line := range lc.GetLogs() {
		all := true
		for _, s := range substrs {
			if !strings.Contains(line, s) {
				all = false
				break
			}
		}
		if all {
			n++
		}
	}
	return n
}

func (lc *LogCapture) ClearLogs() {
	lc.Lock()
	defer lc.Unlock()
	lc.logs = nil
}

// MockActionDispatcher records every action request. Expectations are set
// with On("Execute", ctx, name, data).
type MockActionDispatcher struct {
	mock.Mock
	actions []ActionCall
	mu      sync.Mutex
}

type ActionCall struct {
	ActionName string
	Data       map[string]interface{}
	Timestamp  time.Time
}

func NewMockActionDispatcher() *MockActionDispatcher {
	return &MockActionDispatcher{
		actions: make([]ActionCall, 0),
	}
}

func (mad *MockActionDispatcher) Execute(ctx context.Context, actionName string, data map[string]interface{}) error {
	mad.mu.Lock()
	mad.actions = append(mad.actions, ActionCall{
		ActionName: actionName,
		Data:       data,
		Timestamp:  time.Now(),
	})
	mad.mu.Unlock()

	args := mad.Called(ctx, actionName, data)
	return args.Error(0)
}

func (mad *MockActionDispatcher) GetActionCalls() []ActionCall {
	mad.mu.Lock()
	defer mad.mu.Unlock()

	result := make([]ActionCall, len(mad.actions))
	copy(result, mad.actions)
	return result
}

// CallsTo returns the recorded calls of one action.
func (mad *MockActionDispatcher) CallsTo(actionName string) []ActionCall {
	var out []ActionCall
	for _, c := range mad.GetActionCalls() {
		if c.ActionName == actionName {
			out = append(out, c)
		}
	}
	return out
}
