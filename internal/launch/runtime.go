package launch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/pspdemo/isoload/internal/infra/logger"
)

// PathPlaceholder is replaced by the payload path in argument templates.
const PathPlaceholder = "{path}"

// ErrNoRuntime is returned when no runtime binary is configured.
var ErrNoRuntime = errors.New("no game runtime configured")

// Runtime hands the extracted payload to the game runtime.
type Runtime interface {
	Start(ctx context.Context, payloadPath string) error
}

// CLIRuntime execs an external emulator binary and waits for it to exit.
type CLIRuntime struct {
	Binary string
	Args   []string
	Log    *logger.Logger
}

// NewCLIRuntime resolves binary in PATH so a missing runtime is reported
// before the payload is acquired.
func NewCLIRuntime(binary string, args []string, log *logger.Logger) (*CLIRuntime, error) {
	if binary == "" {
		return nil, ErrNoRuntime
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("runtime: '%s' not found in PATH", binary)
	}

	if log == nil {
		log = logger.Nop()
	}
	if len(args) == 0 {
		args = []string{PathPlaceholder}
	}

	return &CLIRuntime{Binary: path, Args: args, Log: log}, nil
}

func (r *CLIRuntime) Start(ctx context.Context, payloadPath string) error {
	if _, err := os.Stat(payloadPath); err != nil {
		return fmt.Errorf("payload not available: %w", err)
	}

	args := expandArgs(r.Args, payloadPath)
	r.Log.Info("Starting runtime: %s %s", r.Binary, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Stdout = r.Log
	cmd.Stderr = r.Log

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("runtime exited: %w", err)
	}
	return nil
}

func expandArgs(tmpl []string, payloadPath string) []string {
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = strings.ReplaceAll(a, PathPlaceholder, payloadPath)
	}
	return out
}
