package base

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrUnresolvable is wrapped by every PathResolver failure.
var ErrUnresolvable = errors.New("cannot resolve path")

// PathResolver turns the filename reported with an event into an absolute
// path. Relative names are joined to the creating process's current working
// directory, read when the event is handled. The process may have changed
// directory or exited since, so the result is best effort.
type PathResolver struct {
	Cwd func(ctx context.Context, pid int32) (string, error)
}

// NewPathResolver returns a resolver backed by /proc via gopsutil.
func NewPathResolver() *PathResolver {
	return &PathResolver{Cwd: processCwd}
}

func processCwd(ctx context.Context, pid int32) (string, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return "", err
	}
	return p.CwdWithContext(ctx)
}

// Resolve returns the absolute, cleaned path of filename.
func (r *PathResolver) Resolve(ctx context.Context, pid uint32, filename string) (string, error) {
	if filename == "" {
		return "", fmt.Errorf("%w: empty filename", ErrUnresolvable)
	}
	if filepath.IsAbs(filename) {
		return filepath.Clean(filename), nil
	}
	if pid == 0 {
		return "", fmt.Errorf("%w: relative name %q without a process", ErrUnresolvable, filename)
	}

	cwd, err := r.Cwd(ctx, int32(pid))
	if err != nil {
		return "", fmt.Errorf("%w: cwd of pid %d: %v", ErrUnresolvable, pid, err)
	}
	if !filepath.IsAbs(cwd) {
		return "", fmt.Errorf("%w: cwd of pid %d is %q", ErrUnresolvable, pid, cwd)
	}
	return filepath.Join(cwd, filename), nil
}
