// pkg/errors/detector_errors.go
package errors

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Class is the handling category of a detector error.
type Class string

const (
	// ClassTransientIO covers files that vanished or could not be read.
	ClassTransientIO Class = "transient_io"
	// ClassResolution covers paths or processes that could not be resolved.
	ClassResolution Class = "resolution"
	// ClassMitigation covers actions that did not take effect.
	ClassMitigation Class = "mitigation"
	// ClassConfiguration is the only class that stops the detector.
	ClassConfiguration Class = "configuration"
	// ClassCapacity marks bounded-by-design drops worth observing.
	ClassCapacity Class = "capacity"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// DetectorError represents a structured error from a detector component
type DetectorError struct {
	Component   string                 `json:"component"`
	Class       Class                  `json:"class"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (de *DetectorError) Error() string {
	if de.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", de.Component, de.Class, de.Message, de.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", de.Component, de.Class, de.Message)
}

// Unwrap returns the underlying cause
func (de *DetectorError) Unwrap() error {
	return de.Cause
}

// ErrorCollector receives every handled error, typically to count it.
type ErrorCollector interface {
	CollectError(class string)
}

// ErrorHandler logs detector errors and forwards them to a collector.
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// NewErrorHandler creates a new error handler. collector may be nil.
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// HandleError logs err at a level matching its severity and reports it to
// the collector. Non-fatal severities never stop the caller.
func (eh *ErrorHandler) HandleError(ctx context.Context, err *DetectorError) {
	logEvent := eh.getLogEvent(err.Severity).
		Str("component", err.Component).
		Str("error_class", string(err.Class)).
		Bool("recoverable", err.Recoverable)

	if err.Details != nil {
		logEvent = logEvent.Interface("details", err.Details)
	}
	if err.Cause != nil {
		logEvent = logEvent.AnErr("cause", err.Cause)
	}
	logEvent.Msg(err.Message)

	if eh.collector != nil {
		eh.collector.CollectError(string(err.Class))
	}
}

// getLogEvent returns the appropriate zerolog event for severity.
// Configuration errors are returned to main, which decides to exit, so no
// severity maps to Fatal here.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// Helper functions for creating common error types

func NewTransientError(component, operation, path string, cause error) *DetectorError {
	return &DetectorError{
		Component: component,
		Class:     ClassTransientIO,
		Message:   fmt.Sprintf("Could not %s file, skipping", operation),
		Details: map[string]interface{}{
			"operation": operation,
			"path":      path,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewResolutionError(component string, pid uint32, filename string, cause error) *DetectorError {
	return &DetectorError{
		Component: component,
		Class:     ClassResolution,
		Message:   "Could not resolve file path, skipping",
		Details: map[string]interface{}{
			"pid":      pid,
			"filename": filename,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewMitigationError(component, action, target string, cause error) *DetectorError {
	return &DetectorError{
		Component: component,
		Class:     ClassMitigation,
		Message:   fmt.Sprintf("Mitigation %s failed", action),
		Details: map[string]interface{}{
			"action": action,
			"target": target,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewConfigError(component string, cause error, details map[string]interface{}) *DetectorError {
	return &DetectorError{
		Component:   component,
		Class:       ClassConfiguration,
		Message:     "Configuration error occurred",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityCritical,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewCapacityEvent(component, resource string, dropped uint64) *DetectorError {
	return &DetectorError{
		Component: component,
		Class:     ClassCapacity,
		Message:   fmt.Sprintf("Capacity reached: %s", resource),
		Details: map[string]interface{}{
			"resource": resource,
			"dropped":  dropped,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityMedium,
		Recoverable: true,
	}
}
