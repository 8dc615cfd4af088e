// pkg/events/validator.go
package events

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxCommLen mirrors the kernel's TASK_COMM_LEN minus the terminator.
	MaxCommLen = 15
	// MaxFilenameLen mirrors the capture layer's filename buffer.
	MaxFilenameLen = 255
)

// ValidateEvent checks required fields and sanitizes the strings copied out
// of fixed-size kernel buffers.
func ValidateEvent(event *Event) error {
	if !event.Op.Valid() {
		return fmt.Errorf("unknown operation %d", event.Op)
	}
	if event.Tgid == 0 && event.Pid == 0 && !event.Created {
		return fmt.Errorf("event has no process id")
	}

	event.Comm = sanitizeString(event.Comm, MaxCommLen)
	event.Filename = sanitizeString(event.Filename, MaxFilenameLen)

	if event.Filename == "" {
		return fmt.Errorf("event filename is required")
	}
	return nil
}

// sanitizeString cuts s at the first NUL, drops control characters and
// limits the length.
func sanitizeString(s string, max int) string {
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)

	if len(s) > max {
		// Cut on a rune boundary so the result stays valid UTF-8.
		for max > 0 && !utf8.RuneStart(s[max]) {
			max--
		}
		s = s[:max]
	}
	return strings.TrimSpace(s)
}
