package signatures

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func digestOf(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParsePattern(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "ORWP", want: "orwp"},
		{in: "owrwp", want: "owrwp"},
		{in: "open read write rename", want: "orwp"},
		{in: "open -> write -> rename", want: "owp"},
		{in: "open,read,unlink,close", want: "orul"},
		{in: "close", want: "l"},
		{in: "o", want: "o"},
		{in: "  ", wantErr: true},
		{in: "orwx", wantErr: true},
		{in: "open chmod", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePattern(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_PatternsAndDenylist(t *testing.T) {
	dir := t.TempDir()
	bad := digestOf("encrypted payload")

	patternsPath := writeFile(t, dir, "patterns.txt", "# ransomware sequences\nORWOWP\n\nopen -> write -> rename\n")
	denylistPath := writeFile(t, dir, "static.csv", bad+",LockBit sample\n# comment\n")

	store, err := Load([]string{"orwp"}, patternsPath, denylistPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"orwp", "orwowp", "owp"}, store.Patterns())
	assert.Equal(t, 1, store.DenylistSize())
	assert.True(t, store.Contains(bad))
	assert.False(t, store.Contains(strings.ToUpper(bad)), "membership is case sensitive")
	assert.False(t, store.Contains(digestOf("benign")))
}

func TestLoad_CompressedDenylist(t *testing.T) {
	dir := t.TempDir()
	digests := []string{digestOf("a"), digestOf("b"), digestOf("c")}

	f, err := os.Create(filepath.Join(dir, "denylist.txt.zst"))
	require.NoError(t, err)
	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(strings.Join(digests, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())

	store, err := Load(nil, "", f.Name())
	require.NoError(t, err)
	assert.Equal(t, 3, store.DenylistSize())
	for _, d := range digests {
		assert.True(t, store.Contains(d))
	}
}

func TestLoad_FailsFastOnMalformedInput(t *testing.T) {
	dir := t.TempDir()

	t.Run("bad pattern symbol", func(t *testing.T) {
		path := writeFile(t, dir, "bad-patterns.txt", "orwp\norwz\n")
		_, err := Load(nil, path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad-patterns.txt:2")
	})

	t.Run("short digest", func(t *testing.T) {
		path := writeFile(t, dir, "short.txt", "abc123\n")
		_, err := Load(nil, "", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 64 hex characters")
	})

	t.Run("non hex digest", func(t *testing.T) {
		path := writeFile(t, dir, "nonhex.txt", strings.Repeat("z", DigestLen)+"\n")
		_, err := Load(nil, "", path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(nil, "", filepath.Join(dir, "nope.txt"))
		require.Error(t, err)
	})

	t.Run("bad inline pattern", func(t *testing.T) {
		_, err := NewStore([]string{"orwp", "hello"}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern 1")
	})
}

func TestDefaultPatternsAreValid(t *testing.T) {
	store, err := NewStore(DefaultPatterns, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPatterns, store.Patterns())
}
