package events

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/lucid-vigil/ransomguard/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOp(t *testing.T) {
	tests := []struct {
		in   string
		want Op
	}{
		{"open", OpOpen},
		{"READ", OpRead},
		{"w", OpWrite},
		{"P", OpRename},
		{" unlink ", OpUnlink},
		{"l", OpClose},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOp(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParseOp("chmod")
	assert.Error(t, err)
}

func TestOp_SymbolsMatchAlphabet(t *testing.T) {
	for i := 0; i < len(Alphabet); i++ {
		assert.Equal(t, Alphabet[i], Op(i).Symbol())
		assert.True(t, Op(i).Valid())
	}
	assert.False(t, Op(6).Valid())
	assert.Equal(t, byte('?'), Op(6).Symbol())
	assert.Equal(t, "rename", OpRename.String())
}

func TestEvent_KeyUsesBasename(t *testing.T) {
	ev := Event{Op: OpWrite, Pid: 11, Tgid: 10, Filename: "/home/u/docs/report.txt"}
	assert.Equal(t, EntityKey{Tgid: 10, Filename: "report.txt"}, ev.Key())
	assert.Equal(t, uint32(10), ev.ProcessID())

	ev.Tgid = 0
	assert.Equal(t, uint32(11), ev.ProcessID())
}

func TestValidateEvent(t *testing.T) {
	ev := Event{Op: OpOpen, Tgid: 1, Comm: "bash\x00garbage", Filename: "a\tb.txt\x00\x00"}
	require.NoError(t, ValidateEvent(&ev))
	assert.Equal(t, "bash", ev.Comm)
	assert.Equal(t, "ab.txt", ev.Filename)

	assert.Error(t, ValidateEvent(&Event{Op: Op(9), Tgid: 1, Filename: "x"}))
	assert.Error(t, ValidateEvent(&Event{Op: OpOpen, Filename: "x"}))
	assert.Error(t, ValidateEvent(&Event{Op: OpOpen, Tgid: 1, Filename: "\x00"}))
	assert.NoError(t, ValidateEvent(&Event{Op: OpClose, Filename: "/tmp/x", Created: true}))
}

func TestValidateEvent_TruncatesOnRuneBoundary(t *testing.T) {
	// 254 ASCII bytes followed by a 3-byte rune straddle the limit.
	name := strings.Repeat("a", MaxFilenameLen-1) + "文件.txt"
	ev := Event{Op: OpWrite, Tgid: 1, Filename: name}
	require.NoError(t, ValidateEvent(&ev))

	assert.True(t, utf8.ValidString(ev.Filename))
	assert.Equal(t, strings.Repeat("a", MaxFilenameLen-1), ev.Filename)

	comm := Event{Op: OpWrite, Tgid: 1, Comm: "lockerprocessxé", Filename: "f"}
	require.NoError(t, ValidateEvent(&comm))
	assert.True(t, utf8.ValidString(comm.Comm))
	assert.Equal(t, "lockerprocessx", comm.Comm)
}

func TestBus_PublishRoutesCreationEvents(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 4, 4, nil)

	require.NoError(t, bus.Publish(Event{Op: OpWrite, Tgid: 1, Filename: "a"}))
	require.NoError(t, bus.Publish(Event{Op: OpClose, Tgid: 1, Filename: "b", Created: true}))

	assert.Len(t, bus.Ops(), 2)
	assert.Len(t, bus.Created(), 1)

	created := <-bus.Created()
	assert.Equal(t, "b", created.Filename)
	assert.False(t, created.Timestamp.IsZero())
}

func TestBus_DropsWhenFull(t *testing.T) {
	m := metrics.New(nil)
	bus := NewBus(zerolog.Nop(), 2, 1, m)

	require.NoError(t, bus.Publish(Event{Op: OpRead, Tgid: 1, Filename: "a"}))
	require.NoError(t, bus.Publish(Event{Op: OpRead, Tgid: 1, Filename: "a"}))

	err := bus.Publish(Event{Op: OpRead, Tgid: 1, Filename: "a"})
	assert.ErrorIs(t, err, ErrBufferFull)

	stats := bus.Stats()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 2, stats.OpsQueued)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsDropped.WithLabelValues(QueueOps)))
}

func TestBus_InvalidAndClosed(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 2, 2, nil)

	err := bus.Publish(Event{Op: OpRead, Tgid: 1})
	assert.True(t, errors.Is(err, ErrInvalidEvent))
	assert.Equal(t, uint64(1), bus.Stats().Invalid)

	bus.Close()
	bus.Close()
	assert.ErrorIs(t, bus.Publish(Event{Op: OpRead, Tgid: 1, Filename: "a"}), ErrBusClosed)

	_, ok := <-bus.Ops()
	assert.False(t, ok)
}

func TestBus_ConcurrentPublishNeverBlocks(t *testing.T) {
	bus := NewBus(zerolog.Nop(), 64, 8, nil)

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(tgid uint32) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = bus.Publish(Event{Op: OpWrite, Tgid: tgid, Filename: "f", Created: j%10 == 0})
			}
		}(uint32(i + 1))
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked with no consumer")
	}

	stats := bus.Stats()
	assert.Equal(t, uint64(64), stats.Published)
	// Ops drops plus creation-queue drops.
	assert.Equal(t, uint64((8*500-64)+(8*50-8)), stats.Dropped)
}

func TestEventDeduplicator(t *testing.T) {
	d := NewEventDeduplicator(16, 50*time.Millisecond)
	ev := Event{Op: OpClose, Tgid: 7, Filename: "/tmp/note.txt", Created: true}

	assert.False(t, d.IsDuplicate(ev))
	assert.True(t, d.IsDuplicate(ev))

	other := ev
	other.Tgid = 8
	assert.False(t, d.IsDuplicate(other))

	time.Sleep(120 * time.Millisecond)
	assert.False(t, d.IsDuplicate(ev))
}
