package aggregator

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/lucid-vigil/ransomguard/pkg/events"
	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(tgid uint32, name string) events.EntityKey {
	return events.EntityKey{Tgid: tgid, Filename: name}
}

func TestUpdate_CollapsesRepeats(t *testing.T) {
	a := New(nil)
	k := key(100, "doc.txt")

	results := []UpdateResult{}
	for _, s := range []byte("owrwwp") {
		results = append(results, a.Update(k, s, "evil", 101))
	}

	assert.Equal(t, []UpdateResult{Appended, Appended, Appended, Appended, Collapsed, Appended}, results)
	records := a.DrainAndClear()
	require.Len(t, records, 1)
	assert.Equal(t, "owrwp", records[0].Sequence)
	assert.Equal(t, "evil", records[0].Comm)
	assert.Equal(t, uint32(101), records[0].Pid)
	assert.Equal(t, k, records[0].Key)
}

func TestUpdate_DropsOnFull(t *testing.T) {
	m := metrics.New(nil)
	a := New(m)
	k := key(1, "f")

	var b strings.Builder
	for i := 0; i < MaxSequenceLen; i++ {
		s := "rw"[i%2]
		b.WriteByte(s)
		require.Equal(t, Appended, a.Update(k, s, "c", 1))
	}
	// The 36th non-collapsed symbol is dropped, not appended.
	assert.Equal(t, Saturated, a.Update(k, 'p', "c", 1))
	// A repeat of the last stored symbol still collapses.
	assert.Equal(t, Collapsed, a.Update(k, b.String()[MaxSequenceLen-1], "c", 1))

	records := a.DrainAndClear()
	require.Len(t, records, 1)
	assert.Equal(t, b.String(), records[0].Sequence)
	assert.Equal(t, uint64(1), a.Saturated())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SequencesSaturated))
}

func TestUpdate_RandomStreamsKeepInvariants(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for iter := 0; iter < 200; iter++ {
		a := New(nil)
		k := key(uint32(iter), "x")
		n := r.Intn(120)
		for i := 0; i < n; i++ {
			a.Update(k, events.Alphabet[r.Intn(len(events.Alphabet))], "c", 1)
		}
		for _, rec := range a.DrainAndClear() {
			assert.LessOrEqual(t, len(rec.Sequence), MaxSequenceLen)
			for i := 1; i < len(rec.Sequence); i++ {
				require.NotEqual(t, rec.Sequence[i-1], rec.Sequence[i], "sequence %q", rec.Sequence)
			}
		}
	}
}

func TestRecord_UsesEventKeyAndSymbol(t *testing.T) {
	a := New(nil)
	a.Record(events.Event{Op: events.OpOpen, Pid: 12, Tgid: 10, Comm: "cp", Filename: "/a/b/c.txt"})
	a.Record(events.Event{Op: events.OpRename, Pid: 13, Tgid: 10, Comm: "cp", Filename: "/x/c.txt"})

	records := a.DrainAndClear()
	require.Len(t, records, 1)
	assert.Equal(t, key(10, "c.txt"), records[0].Key)
	assert.Equal(t, "op", records[0].Sequence)
	assert.Equal(t, uint32(10), records[0].Pid)
}

func TestDrainAndClear_ThousandKeys(t *testing.T) {
	a := New(nil)
	for i := 0; i < 1000; i++ {
		a.Update(key(uint32(i%50), fmt.Sprintf("file-%04d", i)), 'o', "c", 1)
	}
	assert.Equal(t, 1000, a.Len())

	records := a.DrainAndClear()
	assert.Len(t, records, 1000)
	assert.Equal(t, 0, a.Len())

	seen := make(map[events.EntityKey]bool, len(records))
	for i, rec := range records {
		assert.False(t, seen[rec.Key], "duplicate record %v", rec.Key)
		seen[rec.Key] = true
		if i > 0 {
			assert.True(t, records[i-1].Key.Less(rec.Key))
		}
	}

	assert.Empty(t, a.DrainAndClear())
}

func TestDrainAndClear_ConcurrentUpdates(t *testing.T) {
	a := New(nil)
	const writers, perWriter = 8, 2000

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				// Each file sees alternating symbols, so nothing collapses.
				a.Update(key(uint32(w), fmt.Sprintf("f%d", i%10)), "rw"[(i/10)%2], "c", uint32(w))
			}
		}(w)
	}

	var drained []SequenceRecord
	stop := make(chan struct{})
	var drainWg sync.WaitGroup
	drainWg.Add(1)
	go func() {
		defer drainWg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				batch := a.DrainAndClear()
				drained = append(drained, batch...)
			}
		}
	}()

	wg.Wait()
	close(stop)
	drainWg.Wait()
	drained = append(drained, a.DrainAndClear()...)

	assert.Equal(t, 0, a.Len())
	for _, rec := range drained {
		assert.NotEmpty(t, rec.Sequence)
		assert.LessOrEqual(t, len(rec.Sequence), MaxSequenceLen)
		for i := 1; i < len(rec.Sequence); i++ {
			require.NotEqual(t, rec.Sequence[i-1], rec.Sequence[i])
		}
	}
}

func TestUpdateResult_String(t *testing.T) {
	assert.Equal(t, "appended", Appended.String())
	assert.Equal(t, "collapsed", Collapsed.String())
	assert.Equal(t, "saturated", Saturated.String())
	assert.Equal(t, "unknown", UpdateResult(9).String())
}
