// pkg/events/event.go
package events

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Op is the kind of filesystem operation reported by the capture layer.
type Op uint8

const (
	OpOpen Op = iota
	OpRead
	OpWrite
	OpRename
	OpUnlink
	OpClose

	numOps
)

// Alphabet holds the one-character symbol of every Op, indexed by Op value.
// Behavioral patterns are strings over this alphabet.
const Alphabet = "orwpul"

var opNames = [numOps]string{"open", "read", "write", "rename", "unlink", "close"}

// Symbol returns the single-character code used in operation sequences.
func (o Op) Symbol() byte {
	if o >= numOps {
		return '?'
	}
	return Alphabet[o]
}

func (o Op) String() string {
	if o >= numOps {
		return fmt.Sprintf("op(%d)", uint8(o))
	}
	return opNames[o]
}

// Valid reports whether o is one of the known operation kinds.
func (o Op) Valid() bool {
	return o < numOps
}

// ParseOp accepts an operation name ("open", "rename", ...) or its symbol
// ("o", "p", ...), case insensitively.
func ParseOp(s string) (Op, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range opNames {
		if s == name {
			return Op(i), nil
		}
	}
	if len(s) == 1 {
		if i := strings.IndexByte(Alphabet, s[0]); i >= 0 {
			return Op(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// Event is one filesystem operation observed for a process. Events are
// ephemeral and never persisted.
type Event struct {
	Op        Op        `json:"op"`
	Pid       uint32    `json:"pid"`
	Tgid      uint32    `json:"tgid"`
	Comm      string    `json:"comm"`
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	// Created is set on the event that ends the creation of a file, such as
	// the close of a descriptor opened with O_CREAT.
	Created bool `json:"created"`
}

// Key returns the aggregation bucket for the event.
func (e Event) Key() EntityKey {
	return EntityKey{Tgid: e.Tgid, Filename: filepath.Base(e.Filename)}
}

// ProcessID returns the id of the process (thread group) behind the event.
func (e Event) ProcessID() uint32 {
	if e.Tgid != 0 {
		return e.Tgid
	}
	return e.Pid
}

// EntityKey identifies one aggregation bucket. Basenames may collide across
// directories; such files share a bucket.
type EntityKey struct {
	Tgid     uint32 `json:"tgid"`
	Filename string `json:"filename"`
}

func (k EntityKey) String() string {
	return fmt.Sprintf("%d:%s", k.Tgid, k.Filename)
}

// Less orders keys by tgid, then filename.
func (k EntityKey) Less(o EntityKey) bool {
	if k.Tgid != o.Tgid {
		return k.Tgid < o.Tgid
	}
	return k.Filename < o.Filename
}
