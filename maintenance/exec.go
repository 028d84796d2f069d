package maintenance

import (
	"context"
	"os/exec"

	"golang.org/x/xerrors"
)

// ErrChildAbnormal is returned when the compiler child process did not
// exit normally, or exited with a non-zero status.
var ErrChildAbnormal = xerrors.New("maintenance: compiler child exited abnormally")

// Runner is the fork/exec indirection point. It exists so tests can
// substitute a fake that never spawns a real process.
type Runner interface {
	Run(ctx context.Context, path string, argv []string) error
}

// execRunner is the production Runner, built on os/exec the way
// provisioner/terraform's executor invokes an external binary and waits
// on it.
type execRunner struct{}

// NewExecRunner returns the production Runner.
func NewExecRunner() Runner {
	return execRunner{}
}

func (execRunner) Run(ctx context.Context, path string, argv []string) error {
	// #nosec
	cmd := exec.CommandContext(ctx, path, argv...)
	err := cmd.Run()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if xerrors.As(err, &exitErr) {
		if !exitErr.Exited() {
			return xerrors.Errorf("%w: terminated by signal", ErrChildAbnormal)
		}
		return xerrors.Errorf("%w: exit code %d", ErrChildAbnormal, exitErr.ExitCode())
	}
	return xerrors.Errorf("start compiler: %w", err)
}
