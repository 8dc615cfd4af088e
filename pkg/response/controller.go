// Package response turns verdicts into mitigation actions and reports the
// outcome of each one.
package response

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lucid-vigil/ransomguard/pkg/actions"
	"github.com/lucid-vigil/ransomguard/pkg/actions/kill_process"
	deterrors "github.com/lucid-vigil/ransomguard/pkg/errors"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/rs/zerolog"
)

// KillMode selects how Terminate identifies its victims.
type KillMode string

const (
	// KillByName kills every process sharing the command name. It can hit
	// unrelated processes with the same name.
	KillByName KillMode = "name"
	// KillByPid signals only the reported process.
	KillByPid KillMode = "pid"
)

// ParseKillMode validates a configured mode.
func ParseKillMode(s string) (KillMode, error) {
	switch KillMode(s) {
	case KillByName, KillByPid:
		return KillMode(s), nil
	case "":
		return KillByName, nil
	default:
		return "", fmt.Errorf("unknown kill mode %q (want %q or %q)", s, KillByName, KillByPid)
	}
}

// Status is the result of one mitigation attempt.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusFailed   Status = "failed"
	StatusSkipped  Status = "skipped"
)

// ErrProcessNotFound reports that the process to terminate had already exited.
var ErrProcessNotFound = kill_process.ErrProcessNotFound

// Outcome describes one mitigation attempt.
type Outcome struct {
	Action string `json:"action"`
	Target string `json:"target"`
	Status Status `json:"status"`
	Err    error  `json:"-"`
}

// Target identifies the process behind a verdict.
type Target struct {
	Comm string `json:"comm"`
	Pid  uint32 `json:"pid"`
}

// Executor runs named actions. *actions.ActionDispatcher satisfies it.
type Executor interface {
	Execute(ctx context.Context, actionName string, data map[string]interface{}) error
}

// Controller issues terminations and deletions. Every call produces exactly
// one log line and never returns an error: failures are part of the Outcome.
type Controller struct {
	exec    Executor
	mode    KillMode
	logger  zerolog.Logger
	metrics *metrics.Metrics
	handler *deterrors.ErrorHandler
}

// NewController creates a controller. m may be nil.
func NewController(exec Executor, mode KillMode, logger zerolog.Logger, m *metrics.Metrics) *Controller {
	logger = logger.With().Str("component", "response").Logger()
	var collector deterrors.ErrorCollector
	if m != nil {
		collector = m
	}
	return &Controller{
		exec:    exec,
		mode:    mode,
		logger:  logger,
		metrics: m,
		handler: deterrors.NewErrorHandler(logger, collector),
	}
}

// Mode returns the configured kill mode.
func (c *Controller) Mode() KillMode {
	return c.mode
}

// Terminate kills the target according to the kill mode. Name mode falls
// back to the pid when the command name is unknown, and pid mode falls back
// to the name when no pid was reported.
func (c *Controller) Terminate(ctx context.Context, t Target) Outcome {
	byName := c.mode != KillByPid
	if byName && t.Comm == "" {
		byName = false
	}
	if !byName && t.Pid == 0 {
		byName = true
	}

	if byName {
		return c.run(ctx, "kill_by_name", t.Comm, map[string]interface{}{"name": t.Comm})
	}
	return c.run(ctx, "kill_process", strconv.FormatUint(uint64(t.Pid), 10), map[string]interface{}{"pid": t.Pid})
}

// DeleteFile removes the file at the absolute path.
func (c *Controller) DeleteFile(ctx context.Context, path string) Outcome {
	return c.run(ctx, "delete_file", path, map[string]interface{}{"path": path})
}

func (c *Controller) run(ctx context.Context, action, target string, data map[string]interface{}) Outcome {
	out := Outcome{Action: action, Target: target}

	if target == "" {
		out.Err = fmt.Errorf("empty target")
	} else {
		out.Err = c.exec.Execute(ctx, action, data)
	}

	switch {
	case out.Err == nil:
		out.Status = StatusExecuted
		c.logger.Info().Str("action", action).Str("target", target).Str("status", string(out.Status)).Msg("Mitigation executed")
	case errors.Is(out.Err, actions.ErrActionsDisabled):
		out.Status = StatusSkipped
		c.logger.Info().Str("action", action).Str("target", target).Str("status", string(out.Status)).Msg("Mitigation skipped, actions disabled")
	default:
		out.Status = StatusFailed
		c.handler.HandleError(ctx, deterrors.NewMitigationError("response", action, target, out.Err))
	}

	c.metrics.Mitigation(action, string(out.Status))
	return out
}
