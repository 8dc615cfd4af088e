package base

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BaseMonitor provides the shared bookkeeping of the detection pathways:
// a named child logger, the last run time and error, and simple counters
// surfaced through the API status endpoint.
type BaseMonitor struct {
	name      string
	lastRun   time.Time
	lastError error
	counters  map[string]uint64
	logger    zerolog.Logger
	mu        sync.Mutex // protects every field above except name and logger
}

// NewBaseMonitor creates and initializes a new BaseMonitor with a given name and logger.
func NewBaseMonitor(name string, logger zerolog.Logger) *BaseMonitor {
	return &BaseMonitor{
		name:     name,
		logger:   logger.With().Str("monitor", name).Logger(),
		counters: make(map[string]uint64),
	}
}

// Name returns the monitor's name.
func (b *BaseMonitor) Name() string {
	return b.name
}

// Logger returns the monitor's child logger.
func (b *BaseMonitor) Logger() *zerolog.Logger {
	return &b.logger
}

// RecordRun marks one unit of work as finished with err.
func (b *BaseMonitor) RecordRun(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastRun = time.Now()
	b.lastError = err
}

// GetLastError returns the last error that occurred during execution.
func (b *BaseMonitor) GetLastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// GetLastExecutionTime returns the last time the monitor was executed.
func (b *BaseMonitor) GetLastExecutionTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRun
}

// Inc adds one to the named counter.
func (b *BaseMonitor) Inc(key string) {
	b.Add(key, 1)
}

// Add adds n to the named counter.
func (b *BaseMonitor) Add(key string, n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[key] += n
}

// GetCounters returns a copy of the monitor's counters.
func (b *BaseMonitor) GetCounters() map[string]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	dest := make(map[string]uint64, len(b.counters))
	for k, v := range b.counters {
		dest[k] = v
	}
	return dest
}
