// Package ahocorasick implements a multi-pattern matcher over a small fixed
// alphabet. States live in flat arrays indexed by state id, so failure links
// are plain integers and the whole automaton is immutable after New returns.
package ahocorasick

import (
	"fmt"
	"math/bits"
	"strings"
)

const (
	root      int32 = 0
	undefined int32 = -1
	noSymbol        = -1
)

// Match is a single occurrence of a pattern in a scanned text.
type Match struct {
	PatternID int `json:"pattern_id"`
	Offset    int `json:"offset"`
}

// Automaton is an Aho-Corasick state machine. It is safe for concurrent use
// by any number of goroutines once built.
type Automaton struct {
	alphabet string
	index    [256]int8
	patterns []string

	// delta[s*width+c] is the transition of state s on symbol c.
	delta []int32
	fail  []int32
	// out[s*words : (s+1)*words] is the output bitset of state s.
	out    []uint64
	width  int
	words  int
	states int
}

// New builds an automaton for patterns over alphabet. Matching is case
// insensitive: alphabet, patterns and scanned text are lowercased. A pattern
// that is empty or uses a symbol outside the alphabet is rejected.
func New(alphabet string, patterns []string) (*Automaton, error) {
	alphabet = strings.ToLower(alphabet)
	if alphabet == "" {
		return nil, fmt.Errorf("empty alphabet")
	}

	a := &Automaton{
		alphabet: alphabet,
		width:    len(alphabet),
		words:    (len(patterns) + 63) / 64,
	}
	for i := range a.index {
		a.index[i] = noSymbol
	}
	for i := 0; i < len(alphabet); i++ {
		if a.index[alphabet[i]] != noSymbol {
			return nil, fmt.Errorf("duplicate symbol %q in alphabet", alphabet[i])
		}
		a.index[alphabet[i]] = int8(i)
	}

	total := 0
	a.patterns = make([]string, len(patterns))
	for i, p := range patterns {
		p = strings.ToLower(p)
		if p == "" {
			return nil, fmt.Errorf("pattern %d is empty", i)
		}
		for j := 0; j < len(p); j++ {
			if a.index[p[j]] == noSymbol {
				return nil, fmt.Errorf("pattern %d (%q): symbol %q at position %d is not in alphabet %q", i, p, p[j], j, alphabet)
			}
		}
		a.patterns[i] = p
		total += len(p)
	}

	maxStates := total + 1
	a.delta = make([]int32, maxStates*a.width)
	for i := range a.delta {
		a.delta[i] = undefined
	}
	a.fail = make([]int32, maxStates)
	for i := range a.fail {
		a.fail[i] = undefined
	}
	a.out = make([]uint64, maxStates*a.words)

	a.states = a.buildTrie()
	a.buildFailureLinks()

	return a, nil
}

// buildTrie inserts every pattern and returns the number of states used.
func (a *Automaton) buildTrie() int {
	states := 1
	for i, p := range a.patterns {
		s := root
		for j := 0; j < len(p); j++ {
			c := int32(a.index[p[j]])
			next := a.delta[int(s)*a.width+int(c)]
			if next == undefined {
				next = int32(states)
				a.delta[int(s)*a.width+int(c)] = next
				states++
			}
			s = next
		}
		a.out[int(s)*a.words+i/64] |= 1 << uint(i%64)
	}

	// Root never fails: undefined root transitions loop back to root.
	for c := 0; c < a.width; c++ {
		if a.delta[c] == undefined {
			a.delta[c] = root
		}
	}
	return states
}

// buildFailureLinks computes failure links breadth-first and merges each
// state's output with the output of its failure state.
func (a *Automaton) buildFailureLinks() {
	queue := make([]int32, 0, a.states)
	a.fail[root] = root
	for c := 0; c < a.width; c++ {
		if next := a.delta[c]; next != root {
			a.fail[next] = root
			queue = append(queue, next)
		}
	}

	for head := 0; head < len(queue); head++ {
		state := queue[head]
		for c := 0; c < a.width; c++ {
			child := a.delta[int(state)*a.width+c]
			if child == undefined {
				continue
			}
			f := a.fail[state]
			for a.delta[int(f)*a.width+c] == undefined {
				f = a.fail[f]
			}
			f = a.delta[int(f)*a.width+c]
			a.fail[child] = f

			co, fo := int(child)*a.words, int(f)*a.words
			for w := 0; w < a.words; w++ {
				a.out[co+w] |= a.out[fo+w]
			}
			queue = append(queue, child)
		}
	}
}

// next follows failure links from s until a defined transition on c exists.
// The root always has one, so the walk terminates.
func (a *Automaton) next(s int32, c int8) int32 {
	for a.delta[int(s)*a.width+int(c)] == undefined {
		s = a.fail[s]
	}
	return a.delta[int(s)*a.width+int(c)]
}

// Scan walks text once and calls fn for every match in order of the index at
// which the match ends. Symbols outside the alphabet reset the scan to root.
func (a *Automaton) Scan(text string, fn func(Match)) {
	s := root
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if 'A' <= ch && ch <= 'Z' {
			ch += 'a' - 'A'
		}
		c := a.index[ch]
		if c == noSymbol {
			s = root
			continue
		}
		s = a.next(s, c)

		base := int(s) * a.words
		for w := 0; w < a.words; w++ {
			set := a.out[base+w]
			for set != 0 {
				id := w*64 + bits.TrailingZeros64(set)
				set &= set - 1
				fn(Match{PatternID: id, Offset: i - len(a.patterns[id]) + 1})
			}
		}
	}
}

// Search returns every occurrence of every pattern in text.
func (a *Automaton) Search(text string) []Match {
	var matches []Match
	a.Scan(text, func(m Match) {
		matches = append(matches, m)
	})
	return matches
}

// Count returns the total number of pattern occurrences in text.
func (a *Automaton) Count(text string) int {
	n := 0
	a.Scan(text, func(Match) { n++ })
	return n
}

// Patterns returns the normalized patterns in id order.
func (a *Automaton) Patterns() []string {
	out := make([]string, len(a.patterns))
	copy(out, a.patterns)
	return out
}

// Pattern returns the pattern with the given id.
func (a *Automaton) Pattern(id int) string {
	return a.patterns[id]
}

// States returns the number of states in use, root included.
func (a *Automaton) States() int {
	return a.states
}

// Alphabet returns the normalized alphabet.
func (a *Automaton) Alphabet() string {
	return a.alphabet
}
