package kill_process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"
)

// ErrProcessNotFound is returned when the target process no longer exists.
var ErrProcessNotFound = errors.New("process not found")

// KillProcessAction implements the actions.Action interface. It terminates
// exactly one process given its Process ID (PID).
type KillProcessAction struct{}

// Name returns the unique name of the action.
func (kpa *KillProcessAction) Name() string {
	return "kill_process"
}

// Execute sends SIGKILL to the process in data["pid"]. Encryption in progress
// must stop immediately, so there is no SIGTERM grace period.
func (kpa *KillProcessAction) Execute(ctx context.Context, data map[string]interface{}) error {
	pidVal, ok := data["pid"]
	if !ok {
		return fmt.Errorf("missing 'pid' in action data for kill_process action")
	}

	pid, err := parsePid(pidVal)
	if err != nil {
		return err
	}
	if int(pid) == os.Getpid() {
		return fmt.Errorf("refusing to kill own process %d", pid)
	}

	exists, err := process.PidExistsWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("failed to look up process %d: %w", pid, err)
	}
	if !exists {
		return fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
	}

	if err := signal(pid); err != nil {
		return err
	}

	log.Debug().Int32("pid", pid).Msg("Sent SIGKILL to process.")
	return nil
}

// signal delivers SIGKILL, mapping ESRCH to ErrProcessNotFound for a process
// that exited between lookup and delivery.
func signal(pid int32) error {
	if err := unix.Kill(int(pid), unix.SIGKILL); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("%w: pid %d", ErrProcessNotFound, pid)
		}
		return fmt.Errorf("failed to send SIGKILL to process %d: %w", pid, err)
	}
	return nil
}

func parsePid(v interface{}) (int32, error) {
	var pid int64
	switch p := v.(type) {
	case int:
		pid = int64(p)
	case int32:
		pid = int64(p)
	case int64:
		pid = p
	case uint32:
		pid = int64(p)
	case float64: // JSON unmarshals numbers to float64 by default
		pid = int64(p)
	case string:
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid pid format: %w", err)
		}
		pid = n
	default:
		return 0, fmt.Errorf("unsupported pid type: %T", v)
	}

	if pid <= 0 || pid > int64(^uint32(0)>>1) {
		return 0, fmt.Errorf("invalid pid: %d", pid)
	}
	return int32(pid), nil
}
