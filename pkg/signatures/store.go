// Package signatures loads the immutable detection material: behavioral
// operation patterns and the denylist of malicious content digests.
package signatures

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/lucid-vigil/ransomguard/pkg/events"
)

// DigestLen is the length of a hex-encoded sha256 digest.
const DigestLen = 64

// DefaultPatterns are operation sequences observed from encrypting ransomware:
// open, read, write (repeated) then rename of the victim file.
var DefaultPatterns = []string{"orwowp", "orwrwp", "orwp", "owrwrwrwp", "owrwp", "orwrwowp"}

// Store holds the loaded signatures. It is never mutated after Load.
type Store struct {
	patterns []string
	denylist map[string]struct{}
}

// NewStore builds a store from already-parsed material. Patterns are
// normalized and validated; digests are kept as given.
func NewStore(patterns []string, digests []string) (*Store, error) {
	s := &Store{denylist: make(map[string]struct{}, len(digests))}
	for i, p := range patterns {
		norm, err := ParsePattern(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		s.patterns = append(s.patterns, norm)
	}
	for i, d := range digests {
		if err := validateDigest(d); err != nil {
			return nil, fmt.Errorf("digest %d: %w", i, err)
		}
		s.denylist[d] = struct{}{}
	}
	return s, nil
}

// Load reads inline patterns, an optional patterns file and an optional
// denylist file. Any malformed entry fails the whole load.
func Load(inline []string, patternsPath, denylistPath string) (*Store, error) {
	patterns := append([]string(nil), inline...)
	if patternsPath != "" {
		fromFile, err := readPatternsFile(patternsPath)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, fromFile...)
	}

	var digests []string
	if denylistPath != "" {
		var err error
		digests, err = readDenylistFile(denylistPath)
		if err != nil {
			return nil, err
		}
	}

	return NewStore(patterns, digests)
}

// Patterns returns the behavioral patterns in load order.
func (s *Store) Patterns() []string {
	out := make([]string, len(s.patterns))
	copy(out, s.patterns)
	return out
}

// Contains reports whether digest is on the denylist. The comparison is
// exact and case sensitive.
func (s *Store) Contains(digest string) bool {
	_, ok := s.denylist[digest]
	return ok
}

// DenylistSize returns the number of distinct digests loaded.
func (s *Store) DenylistSize() int {
	return len(s.denylist)
}

// ParsePattern normalizes one pattern line. Compact form uses the operation
// symbols ("ORWP", "orwp"); long form lists operation names separated by
// spaces, commas or "->" ("open -> read -> write -> rename").
func ParsePattern(line string) (string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("empty pattern")
	}

	tokens := strings.FieldsFunc(strings.ReplaceAll(line, "->", " "), func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(tokens) == 1 && len(tokens[0]) > 1 {
		if _, err := events.ParseOp(tokens[0]); err != nil {
			tokens = strings.Split(tokens[0], "")
		}
	}

	var b strings.Builder
	for _, tok := range tokens {
		op, err := events.ParseOp(tok)
		if err != nil {
			return "", fmt.Errorf("pattern %q: %w", line, err)
		}
		b.WriteByte(op.Symbol())
	}
	return b.String(), nil
}

func readPatternsFile(path string) ([]string, error) {
	r, closeFn, err := openMaybeCompressed(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open patterns file: %w", err)
	}
	defer closeFn()

	var patterns []string
	err = scanLines(r, func(n int, line string) error {
		p, err := ParsePattern(line)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
		patterns = append(patterns, p)
		return nil
	})
	return patterns, err
}

func readDenylistFile(path string) ([]string, error) {
	r, closeFn, err := openMaybeCompressed(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open denylist: %w", err)
	}
	defer closeFn()

	var digests []string
	err = scanLines(r, func(n int, line string) error {
		// A CSV export keeps the digest in the first column.
		if i := strings.IndexByte(line, ','); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		line = strings.Trim(line, `"`)
		if err := validateDigest(line); err != nil {
			return fmt.Errorf("%s:%d: %w", path, n, err)
		}
		digests = append(digests, line)
		return nil
	})
	return digests, err
}

// openMaybeCompressed opens path, transparently decoding zstd when the name
// ends in ".zst".
func openMaybeCompressed(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, func() { f.Close() }, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	return dec, func() {
		dec.Close()
		f.Close()
	}, nil
}

// scanLines calls fn for every non-blank line that is not a '#' comment.
func scanLines(r io.Reader, fn func(n int, line string) error) error {
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func validateDigest(d string) error {
	if len(d) != DigestLen {
		return fmt.Errorf("digest %q: expected %d hex characters, got %d", d, DigestLen, len(d))
	}
	if _, err := hex.DecodeString(d); err != nil {
		return fmt.Errorf("digest %q: %w", d, err)
	}
	return nil
}
