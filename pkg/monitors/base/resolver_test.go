package base

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathResolver_Resolve(t *testing.T) {
	r := &PathResolver{Cwd: func(_ context.Context, pid int32) (string, error) {
		switch pid {
		case 10:
			return "/home/alice", nil
		case 11:
			return "relative", nil
		default:
			return "", errors.New("no such process")
		}
	}}
	ctx := context.Background()

	got, err := r.Resolve(ctx, 99, "/tmp/../tmp/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a.txt", got)

	got, err = r.Resolve(ctx, 10, "docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "/home/alice/docs/a.txt", got)

	for _, tc := range []struct {
		pid  uint32
		name string
	}{
		{10, ""},
		{0, "a.txt"},
		{11, "a.txt"},
		{12, "a.txt"},
	} {
		_, err := r.Resolve(ctx, tc.pid, tc.name)
		assert.ErrorIs(t, err, ErrUnresolvable, "pid %d name %q", tc.pid, tc.name)
	}
}

func TestPathResolver_OwnProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	wd, err = filepath.EvalSymlinks(wd)
	require.NoError(t, err)

	got, err := NewPathResolver().Resolve(context.Background(), uint32(os.Getpid()), "x.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "x.txt"), got)
}
