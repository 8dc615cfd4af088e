// pkg/events/deduplicator.go
package events

import (
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// EventDeduplicator suppresses creation events for the same process and path
// seen within a time window. Overlapping hook sites can report one file
// creation more than once.
type EventDeduplicator struct {
	seen *expirable.LRU[string, struct{}]
}

// NewEventDeduplicator creates a deduplicator remembering up to size keys
// for window.
func NewEventDeduplicator(size int, window time.Duration) *EventDeduplicator {
	if size <= 0 {
		size = 1024
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	return &EventDeduplicator{
		seen: expirable.NewLRU[string, struct{}](size, nil, window),
	}
}

// IsDuplicate reports whether an event for the same process and path was
// seen within the window, and records this one otherwise. It is meant for a
// single consumer.
func (ed *EventDeduplicator) IsDuplicate(event Event) bool {
	key := ed.eventKey(event)
	if _, ok := ed.seen.Get(key); ok {
		return true
	}
	ed.seen.Add(key, struct{}{})
	return false
}

func (ed *EventDeduplicator) eventKey(event Event) string {
	return fmt.Sprintf("%d:%s", event.ProcessID(), event.Filename)
}

// Len returns the number of remembered keys.
func (ed *EventDeduplicator) Len() int {
	return ed.seen.Len()
}
