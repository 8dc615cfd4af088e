// Package sources defines the capture side of the event boundary.
package sources

import (
	"context"

	"github.com/lucid-vigil/ransomguard/pkg/events"
)

// Publisher accepts captured events without blocking. *events.Bus
// satisfies it.
type Publisher interface {
	Publish(ev events.Event) error
}

// Source captures filesystem operations and publishes them until ctx is
// cancelled. Run returns a non-nil error only when the source could not
// start.
type Source interface {
	Name() string
	Run(ctx context.Context, pub Publisher) error
}
