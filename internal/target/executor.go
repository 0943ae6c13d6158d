package target

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/g960059/pnp/internal/config"
	"github.com/g960059/pnp/internal/model"
)

type RunResult struct {
	Output   string
	Duration time.Duration
}

type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// ErrTargetUnreachable marks failures to reach the tmux server at all, as
// opposed to tmux rejecting a command.
var ErrTargetUnreachable = errors.New(model.ErrTargetUnreachable)

// Executor runs tmux commands against one target, locally or over ssh.
type Executor struct {
	cfg    config.Config
	runner Runner
	target model.Target
}

func NewExecutor(cfg config.Config) *Executor {
	return &Executor{
		cfg:    cfg,
		runner: OSRunner{},
		target: FromConfig(cfg),
	}
}

func NewExecutorWithRunner(cfg config.Config, runner Runner) *Executor {
	e := NewExecutor(cfg)
	e.runner = runner
	return e
}

// FromConfig builds the target described by the [target] config table.
func FromConfig(cfg config.Config) model.Target {
	kind := model.TargetKind(cfg.TargetKind)
	if kind == "" {
		kind = model.TargetKindLocal
	}
	id := string(kind)
	if kind == model.TargetKindSSH {
		id = "ssh:" + cfg.TargetConnectionRef
	}
	return model.Target{
		TargetID:      id,
		Kind:          kind,
		ConnectionRef: cfg.TargetConnectionRef,
	}
}

func (e *Executor) Target() model.Target {
	return e.target
}

// Tmux runs one tmux invocation on the configured target.
func (e *Executor) Tmux(ctx context.Context, args ...string) (RunResult, error) {
	return e.Run(ctx, e.target, BuildTmuxCommand(args...))
}

func (e *Executor) Run(ctx context.Context, target model.Target, command []string) (RunResult, error) {
	if len(command) == 0 {
		return RunResult{}, fmt.Errorf("empty command")
	}

	maxAttempts := 1
	if isRetryableCommand(command) {
		maxAttempts += len(e.cfg.RetryBackoff)
	}
	var (
		lastErr error
		lastOut []byte
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, e.cfg.CommandTimeout)
		var (
			out []byte
			err error
		)
		switch target.Kind {
		case model.TargetKindLocal:
			out, err = e.runner.Run(runCtx, command[0], command[1:]...)
		case model.TargetKindSSH:
			args, argErr := e.buildSSHArgs(target.ConnectionRef, command)
			if argErr != nil {
				cancel()
				return RunResult{}, argErr
			}
			out, err = e.runner.Run(runCtx, "ssh", args...)
		default:
			cancel()
			return RunResult{}, fmt.Errorf("unsupported target kind: %s", target.Kind)
		}
		cancel()
		if err == nil {
			return RunResult{Output: string(out), Duration: time.Since(start)}, nil
		}
		lastErr = err
		lastOut = out

		if attempt < maxAttempts {
			backoff := e.cfg.RetryBackoff[attempt-1]
			jitter := time.Duration(0)
			maxJitter := int64(backoff / 4)
			if maxJitter > 0 {
				jitter = time.Duration(time.Now().UTC().UnixNano() % maxJitter)
			}
			select {
			case <-ctx.Done():
				return RunResult{}, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}
	}

	if errors.Is(lastErr, context.DeadlineExceeded) || errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, exec.ErrNotFound) {
		return RunResult{}, fmt.Errorf("%w: %w", ErrTargetUnreachable, lastErr)
	}
	if msg := strings.TrimSpace(string(lastOut)); msg != "" {
		return RunResult{Output: string(lastOut)}, fmt.Errorf("%s: %w", msg, lastErr)
	}
	return RunResult{}, lastErr
}

func (e *Executor) buildSSHArgs(connectionRef string, command []string) ([]string, error) {
	if strings.TrimSpace(connectionRef) == "" {
		return nil, fmt.Errorf("ssh target connection_ref is required")
	}
	if strings.HasPrefix(strings.TrimSpace(connectionRef), "-") {
		return nil, fmt.Errorf("invalid ssh target connection_ref")
	}
	args := []string{
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", int(e.cfg.ConnectTimeout.Seconds())),
		"-o", "ControlMaster=auto",
		"-o", "ControlPersist=60",
		connectionRef,
	}
	args = append(args, quoteForRemoteShell(command)...)
	return args, nil
}

// quoteForRemoteShell protects tmux command separators and format strings
// from the remote login shell.
func quoteForRemoteShell(command []string) []string {
	out := make([]string, 0, len(command))
	for _, arg := range command {
		if arg != "" && !strings.ContainsAny(arg, " ;#{}'\"$\\\t\x1f") {
			out = append(out, arg)
			continue
		}
		out = append(out, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
	}
	return out
}

func BuildTmuxCommand(args ...string) []string {
	cmd := make([]string, 0, len(args)+1)
	cmd = append(cmd, "tmux")
	cmd = append(cmd, args...)
	return cmd
}

// isRetryableCommand reports whether a tmux invocation only reads state.
// Mutations are never retried since a partial apply cannot be detected.
func isRetryableCommand(command []string) bool {
	if len(command) < 2 {
		return false
	}
	if command[0] != "tmux" {
		return false
	}
	for _, arg := range command[2:] {
		if arg == ";" {
			return false
		}
	}
	switch strings.ToLower(command[1]) {
	case "list-panes", "list-windows", "list-clients", "list-sessions", "display-message", "has-session":
		return true
	default:
		return false
	}
}
