package classifier

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ExecClassifier runs an external predictor per text. The text is written to
// the command's stdin; its stdout must be "1"/"malicious" or "0"/"benign",
// optionally followed by a score.
type ExecClassifier struct {
	Command []string
	Timeout time.Duration
}

// NewExecClassifier parses a command line such as "python3 predict.py".
func NewExecClassifier(command string, timeout time.Duration) (*ExecClassifier, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("classifier command is empty")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecClassifier{Command: argv, Timeout: timeout}, nil
}

func (e *ExecClassifier) Classify(ctx context.Context, text string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.Command[0], e.Command[1:]...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		return Result{}, fmt.Errorf("classifier command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return parsePrediction(stdout.String())
}

func parsePrediction(out string) (Result, error) {
	fields := strings.Fields(strings.ToLower(out))
	if len(fields) == 0 {
		return Result{}, fmt.Errorf("classifier produced no output")
	}

	var r Result
	switch fields[0] {
	case "1", "malicious", "ransomware":
		r.Label = Malicious
	case "0", "benign":
		r.Label = Benign
	default:
		return Result{}, fmt.Errorf("unexpected classifier output %q", fields[0])
	}
	if len(fields) > 1 {
		score, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return Result{}, fmt.Errorf("unexpected classifier score %q: %w", fields[1], err)
		}
		r.Score = score
	}
	return r, nil
}
