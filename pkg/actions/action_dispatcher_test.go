package actions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAction struct {
	mock.Mock
}

func (m *MockAction) Name() string {
	return m.Called().String(0)
}

func (m *MockAction) Execute(ctx context.Context, data map[string]interface{}) error {
	return m.Called(ctx, data).Error(0)
}

func TestNewActionDispatcher_RegistersBuiltins(t *testing.T) {
	ad := NewActionDispatcher(true)
	assert.Equal(t, []string{"delete_file", "kill_by_name", "kill_process"}, ad.Names())
	assert.True(t, ad.IsEnabled())
}

func TestExecute_RunsRegisteredAction(t *testing.T) {
	ad := NewActionDispatcher(true)
	action := new(MockAction)
	action.On("Name").Return("fake")
	data := map[string]interface{}{"pid": 42}
	action.On("Execute", mock.Anything, data).Return(nil).Once()

	ad.RegisterAction(action)
	require.NoError(t, ad.Execute(context.Background(), "fake", data))
	action.AssertExpectations(t)
}

func TestExecute_PropagatesActionError(t *testing.T) {
	ad := NewActionDispatcher(true)
	action := new(MockAction)
	action.On("Name").Return("fake")
	boom := errors.New("boom")
	action.On("Execute", mock.Anything, mock.Anything).Return(boom)

	ad.RegisterAction(action)
	assert.ErrorIs(t, ad.Execute(context.Background(), "fake", nil), boom)
}

func TestExecute_DisabledSkipsAction(t *testing.T) {
	ad := NewActionDispatcher(false)
	action := new(MockAction)
	action.On("Name").Return("fake")
	ad.RegisterAction(action)

	err := ad.Execute(context.Background(), "fake", nil)
	assert.ErrorIs(t, err, ErrActionsDisabled)
	action.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	ad.SetEnabled(true)
	action.On("Execute", mock.Anything, mock.Anything).Return(nil)
	assert.NoError(t, ad.Execute(context.Background(), "fake", nil))
}

func TestExecute_UnknownAction(t *testing.T) {
	ad := NewActionDispatcher(true)
	err := ad.Execute(context.Background(), "block_ip", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}
