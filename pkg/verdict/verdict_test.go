package verdict

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lucid-vigil/ransomguard/pkg/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	got []Verdict
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, v Verdict) error {
	r.got = append(r.got, v)
	return r.err
}

func (r *recordingPublisher) Close() error { return r.err }

func TestNew(t *testing.T) {
	a := New(SourceStatic)
	b := New(SourceStatic)

	_, err := uuid.Parse(a.ID)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, SourceStatic, a.Source)
	assert.False(t, a.Time.IsZero())
}

func TestLogPublisher(t *testing.T) {
	lc := &testutil.LogCapture{}
	p := NewLogPublisher(zerolog.New(lc))

	v := New(SourceBehavioral)
	v.Comm = "evil"
	v.Sequence = "owrwp"
	v.Matches = 1
	v.Patterns = []string{"owrwp"}
	require.NoError(t, p.Publish(context.Background(), v))
	require.NoError(t, p.Close())

	assert.Equal(t, 1, lc.Count(`"source":"behavioral"`, `"comm":"evil"`, `"sequence":"owrwp"`, `"patterns":["owrwp"]`, v.ID))
}

func TestVerdict_PayloadCarriesPatterns(t *testing.T) {
	v := New(SourceBehavioral)
	v.Patterns = []string{"orwp", "owrwp"}
	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"patterns":["orwp","owrwp"]`)

	static := New(SourceStatic)
	data, err = json.Marshal(static)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"patterns"`)
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok, failing := &recordingPublisher{}, &recordingPublisher{err: boom}
	m := Multi{ok, failing}

	err := m.Publish(context.Background(), New(SourceRansomNote))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
	assert.ErrorIs(t, m.Close(), boom)
}

func TestNewNATSPublisher_Errors(t *testing.T) {
	_, err := NewNATSPublisher("nats://127.0.0.1:1", "", zerolog.Nop())
	assert.Error(t, err)

	// Nothing listens on port 1.
	_, err = NewNATSPublisher("nats://127.0.0.1:1", "ransomguard.verdicts", zerolog.Nop())
	assert.Error(t, err)
}
