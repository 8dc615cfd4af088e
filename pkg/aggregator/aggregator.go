// Package aggregator accumulates per-entity filesystem operation sequences
// between control loop cycles.
package aggregator

import (
	"sort"
	"sync"

	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
)

// MaxSequenceLen is the maximum number of symbols kept per entity. Symbols
// arriving after that are dropped; the oldest are never evicted.
const MaxSequenceLen = 35

// SequenceRecord is the accumulated state of one entity.
type SequenceRecord struct {
	Key      events.EntityKey `json:"key"`
	Comm     string           `json:"comm"`
	Pid      uint32           `json:"pid"`
	Sequence string           `json:"sequence"`
}

// UpdateResult describes what an Update did to the entity's sequence.
type UpdateResult int

const (
	Appended UpdateResult = iota
	Collapsed
	Saturated
)

func (r UpdateResult) String() string {
	switch r {
	case Appended:
		return "appended"
	case Collapsed:
		return "collapsed"
	case Saturated:
		return "saturated"
	default:
		return "unknown"
	}
}

type entry struct {
	comm string
	pid  uint32
	n    uint8
	seq  [MaxSequenceLen]byte
}

// Aggregator is the table shared between event consumers and the control
// loop. Each Update is applied under the table lock, so it lands entirely
// before or entirely after any DrainAndClear.
type Aggregator struct {
	mu      sync.Mutex
	table   map[events.EntityKey]*entry
	metrics *metrics.Metrics

	saturated uint64
}

// New creates an empty aggregator.
func New(m *metrics.Metrics) *Aggregator {
	return &Aggregator{
		table:   make(map[events.EntityKey]*entry),
		metrics: m,
	}
}

// Update records symbol for key. A symbol equal to the last one stored is
// collapsed; a full sequence ignores new symbols. comm and pid are refreshed
// from the latest event.
func (a *Aggregator) Update(key events.EntityKey, symbol byte, comm string, pid uint32) UpdateResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.table[key]
	if !ok {
		e = &entry{}
		a.table[key] = e
	}
	e.comm = comm
	e.pid = pid

	switch {
	case e.n > 0 && e.seq[e.n-1] == symbol:
		return Collapsed
	case int(e.n) >= MaxSequenceLen:
		a.saturated++
		a.metrics.SequenceSaturated()
		return Saturated
	default:
		e.seq[e.n] = symbol
		e.n++
		return Appended
	}
}

// Record applies ev to its entity.
func (a *Aggregator) Record(ev events.Event) UpdateResult {
	return a.Update(ev.Key(), ev.Op.Symbol(), ev.Comm, ev.ProcessID())
}

// DrainAndClear returns every record, ordered by key, and leaves the table
// empty.
func (a *Aggregator) DrainAndClear() []SequenceRecord {
	a.mu.Lock()
	table := a.table
	a.table = make(map[events.EntityKey]*entry, len(table))
	a.mu.Unlock()

	records := make([]SequenceRecord, 0, len(table))
	for key, e := range table {
		records = append(records, SequenceRecord{
			Key:      key,
			Comm:     e.comm,
			Pid:      e.pid,
			Sequence: string(e.seq[:e.n]),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.Less(records[j].Key)
	})
	return records
}

// Len returns the number of entities currently tracked.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.table)
}

// Saturated returns how many symbols were dropped on full sequences since
// the aggregator was created.
func (a *Aggregator) Saturated() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saturated
}
