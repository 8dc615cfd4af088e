package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingCollector struct {
	classes []string
}

func (c *countingCollector) CollectError(class string) {
	c.classes = append(c.classes, class)
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &out))
	return out
}

func TestDetectorError_ErrorAndUnwrap(t *testing.T) {
	err := NewTransientError("static", "hash", "/tmp/a", fs.ErrNotExist)
	assert.True(t, stderrors.Is(err, fs.ErrNotExist))
	assert.Equal(t, ClassTransientIO, err.Class)
	assert.True(t, err.Recoverable)
	assert.Contains(t, err.Error(), "[static] transient_io")

	bare := &DetectorError{Component: "engine", Class: ClassConfiguration, Message: "bad"}
	assert.Equal(t, "[engine] configuration: bad", bare.Error())
	assert.Nil(t, bare.Unwrap())

	var target *DetectorError
	wrapped := stderrors.Join(stderrors.New("other"), NewConfigError("engine", stderrors.New("x"), nil))
	require.True(t, stderrors.As(wrapped, &target))
	assert.False(t, target.Recoverable)
}

func TestHandleError_LevelsAndCollector(t *testing.T) {
	tests := []struct {
		name  string
		err   *DetectorError
		level string
		class string
	}{
		{"transient", NewTransientError("ransomnote", "read", "/tmp/n", fs.ErrPermission), "info", "transient_io"},
		{"resolution", NewResolutionError("static", 42, "a.txt", stderrors.New("no such process")), "info", "resolution"},
		{"mitigation", NewMitigationError("response", "kill_process", "42", stderrors.New("gone")), "warn", "mitigation"},
		{"configuration", NewConfigError("engine", stderrors.New("bad pattern"), map[string]interface{}{"line": 2}), "error", "configuration"},
		{"capacity", NewCapacityEvent("event_bus", "ops", 17), "warn", "capacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			collector := &countingCollector{}
			h := NewErrorHandler(zerolog.New(&buf), collector)

			h.HandleError(context.Background(), tt.err)

			line := decodeLine(t, &buf)
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, tt.class, line["error_class"])
			assert.Equal(t, tt.err.Component, line["component"])
			assert.Equal(t, []string{tt.class}, collector.classes)
		})
	}
}

func TestHandleError_NilCollector(t *testing.T) {
	var buf bytes.Buffer
	h := NewErrorHandler(zerolog.New(&buf), nil)

	assert.NotPanics(t, func() {
		h.HandleError(context.Background(), NewCapacityEvent("event_bus", "created", 3))
	})
	line := decodeLine(t, &buf)
	details, ok := line["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "created", details["resource"])
	assert.Equal(t, float64(3), details["dropped"])
}
