package ahocorasick

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const opAlphabet = "orwpul"

// bruteForce finds every occurrence of every pattern by direct comparison.
func bruteForce(patterns []string, text string) []Match {
	text = strings.ToLower(text)
	var out []Match
	for id, p := range patterns {
		p = strings.ToLower(p)
		for i := 0; i+len(p) <= len(text); i++ {
			if text[i:i+len(p)] == p {
				out = append(out, Match{PatternID: id, Offset: i})
			}
		}
	}
	return out
}

func sorted(m []Match) []Match {
	out := append([]Match(nil), m...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].PatternID != out[j].PatternID {
			return out[i].PatternID < out[j].PatternID
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

func randomString(r *rand.Rand, alphabet string, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(b)
}

func TestSearch_ClassicExample(t *testing.T) {
	a, err := New("ehirs", []string{"he", "she", "his", "hers"})
	require.NoError(t, err)

	got := a.Search("hishers")
	assert.ElementsMatch(t, []Match{
		{PatternID: 2, Offset: 0}, // his
		{PatternID: 1, Offset: 2}, // she
		{PatternID: 0, Offset: 3}, // he
		{PatternID: 3, Offset: 3}, // hers
	}, got)
}

func TestSearch_SingleRansomPattern(t *testing.T) {
	a, err := New(opAlphabet, []string{"owrwp"})
	require.NoError(t, err)

	assert.Equal(t, []Match{{PatternID: 0, Offset: 0}}, a.Search("owrwp"))
	assert.Equal(t, 1, a.Count("owrwp"))
	assert.Equal(t, 0, a.Count("owrw"))
}

func TestSearch_DefaultPatternsOverlap(t *testing.T) {
	patterns := []string{"ORWOWP", "ORWRWP", "ORWP", "OWRWRWRWP", "OWRWP", "ORWRWOWP"}
	a, err := New(opAlphabet, patterns)
	require.NoError(t, err)

	text := "orwrwowpowrwrwrwp"
	assert.Equal(t, sorted(bruteForce(patterns, text)), sorted(a.Search(text)))
	assert.Contains(t, a.Search(text), Match{PatternID: 5, Offset: 0})
	assert.Contains(t, a.Search(text), Match{PatternID: 3, Offset: 8})
}

func TestSearch_CaseInsensitive(t *testing.T) {
	a, err := New(opAlphabet, []string{"ORWP"})
	require.NoError(t, err)
	assert.Equal(t, "orwp", a.Pattern(0))
	assert.Equal(t, 2, a.Count("orwpORWP"))
}

func TestSearch_MatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for iter := 0; iter < 500; iter++ {
		alphabet := opAlphabet[:2+r.Intn(len(opAlphabet)-1)]
		k := 1 + r.Intn(8)
		patterns := make([]string, k)
		for i := range patterns {
			patterns[i] = randomString(r, alphabet, 1+r.Intn(5))
		}
		text := randomString(r, alphabet, r.Intn(60))

		a, err := New(opAlphabet, patterns)
		require.NoError(t, err)
		require.Equal(t, sorted(bruteForce(patterns, text)), sorted(a.Search(text)),
			"patterns=%v text=%q", patterns, text)
	}
}

func TestSearch_MoreThanSixtyFourPatterns(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	patterns := make([]string, 150)
	for i := range patterns {
		patterns[i] = randomString(r, "orw", 1+r.Intn(4))
	}
	text := randomString(r, "orw", 200)

	a, err := New(opAlphabet, patterns)
	require.NoError(t, err)
	assert.Equal(t, sorted(bruteForce(patterns, text)), sorted(a.Search(text)))
}

func TestSearch_UnknownSymbolResetsToRoot(t *testing.T) {
	a, err := New(opAlphabet, []string{"orw"})
	require.NoError(t, err)
	assert.Equal(t, 0, a.Count("or-w"))
	assert.Equal(t, 1, a.Count("or-orw"))
}

func TestNew_RejectsInvalidPatterns(t *testing.T) {
	_, err := New(opAlphabet, []string{"orwx"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in alphabet")

	_, err = New(opAlphabet, []string{"orw", ""})
	require.Error(t, err)

	_, err = New("oo", []string{"o"})
	require.Error(t, err)

	_, err = New("", []string{"o"})
	require.Error(t, err)
}

func TestNew_StateCountBoundedByTotalLength(t *testing.T) {
	patterns := []string{"orwp", "orwop", "owp"}
	a, err := New(opAlphabet, patterns)
	require.NoError(t, err)
	// Shared prefixes "orw" and "o" collapse in the trie.
	assert.Equal(t, 1+4+2+2, a.States())
	assert.LessOrEqual(t, a.States(), 1+4+5+3)
	assert.Equal(t, []string{"orwp", "orwop", "owp"}, a.Patterns())
}

func TestNew_NoPatterns(t *testing.T) {
	a, err := New(opAlphabet, nil)
	require.NoError(t, err)
	assert.Empty(t, a.Search("orwp"))
}

func TestSearch_ConcurrentReaders(t *testing.T) {
	patterns := []string{"orwowp", "orwrwp", "orwp", "owrwrwrwp", "owrwp", "orwrwowp"}
	a, err := New(opAlphabet, patterns)
	require.NoError(t, err)

	text := "orwpowrwporwrwowp"
	want := sorted(bruteForce(patterns, text))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				assert.Equal(t, want, sorted(a.Search(text)))
			}
		}()
	}
	wg.Wait()
}

func BenchmarkSearch(b *testing.B) {
	r := rand.New(rand.NewSource(1))
	patterns := []string{"orwowp", "orwrwp", "orwp", "owrwrwrwp", "owrwp", "orwrwowp"}
	a, _ := New(opAlphabet, patterns)
	text := randomString(r, opAlphabet, 35)

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.Count(text)
	}
}
