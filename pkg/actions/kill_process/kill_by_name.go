package kill_process

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"
)

// KillByNameAction terminates every process whose command name equals
// data["name"], like `killall -9`. This is coarse: unrelated processes that
// share the name are killed too.
type KillByNameAction struct{}

func (kba *KillByNameAction) Name() string {
	return "kill_by_name"
}

// Execute kills all matching processes. It returns ErrProcessNotFound when
// nothing matched and the joined errors when some deliveries failed.
func (kba *KillByNameAction) Execute(ctx context.Context, data map[string]interface{}) error {
	name, _ := data["name"].(string)
	if name == "" {
		return fmt.Errorf("missing 'name' in action data for kill_by_name action")
	}

	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to list processes: %w", err)
	}

	self := int32(os.Getpid())
	var (
		killed int
		errs   []error
	)
	for _, p := range procs {
		if p.Pid == self {
			continue
		}
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			// Processes exit while we iterate; unreadable ones are not ours to judge.
			continue
		}
		if err := signal(p.Pid); err != nil {
			if errors.Is(err, ErrProcessNotFound) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		killed++
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	if killed == 0 {
		return fmt.Errorf("%w: name %q", ErrProcessNotFound, name)
	}

	log.Debug().Str("name", name).Int("killed", killed).Msg("Sent SIGKILL to processes by name.")
	return nil
}
