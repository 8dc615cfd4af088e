package engine

import (
	"time"

	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/monitors/base"
)

// MonitorStatus is the bookkeeping of one detection pathway.
type MonitorStatus struct {
	LastRun   time.Time         `json:"last_run,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	Counters  map[string]uint64 `json:"counters"`
}

// Status is the snapshot served by the API.
type Status struct {
	Running      bool                     `json:"running"`
	StartedAt    *time.Time               `json:"started_at,omitempty"`
	Source       string                   `json:"source"`
	Interval     string                   `json:"interval"`
	Threshold    int                      `json:"threshold"`
	Patterns     []string                 `json:"patterns"`
	DenylistSize int                      `json:"denylist_size"`
	Enforcing    bool                     `json:"enforcing"`
	KillMode     string                   `json:"kill_mode"`
	Tracked      int                      `json:"tracked_entities"`
	Saturated    uint64                   `json:"saturated_symbols"`
	Bus          events.BusStats          `json:"bus"`
	Monitors     map[string]MonitorStatus `json:"monitors"`
}

// Status returns a point-in-time view of the engine. It is safe to call
// concurrently with Run.
func (e *Engine) Status() Status {
	st := Status{
		Running:      e.running.Load(),
		StartedAt:    e.startedAt.Load(),
		Source:       "none",
		Interval:     e.cfg.Detector.Interval.String(),
		Threshold:    e.cfg.Detector.Threshold,
		Patterns:     e.store.Patterns(),
		DenylistSize: e.store.DenylistSize(),
		Enforcing:    e.enforcing(),
		KillMode:     string(e.controller.Mode()),
		Tracked:      e.aggregator.Len(),
		Saturated:    e.aggregator.Saturated(),
		Bus:          e.bus.Stats(),
		Monitors:     make(map[string]MonitorStatus),
	}
	if e.source != nil {
		st.Source = e.source.Name()
	}

	monitors := []*base.BaseMonitor{e.behavior.BaseMonitor, e.static.BaseMonitor}
	if e.ransomNote != nil {
		monitors = append(monitors, e.ransomNote.BaseMonitor)
	}
	for _, m := range monitors {
		ms := MonitorStatus{
			LastRun:  m.GetLastExecutionTime(),
			Counters: m.GetCounters(),
		}
		if err := m.GetLastError(); err != nil {
			ms.LastError = err.Error()
		}
		st.Monitors[m.Name()] = ms
	}
	return st
}
