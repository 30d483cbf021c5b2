package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes an external program to completion.
type Runner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) error
}

// CommandRunner runs speech and playback programs. Text is always passed
// on stdin so a phrase can never be read as a flag.
type CommandRunner struct {
	defaultTimeout time.Duration
}

// NewCommandRunner creates a runner that bounds commands without their
// own deadline by timeout.
func NewCommandRunner(timeout time.Duration) *CommandRunner {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandRunner{defaultTimeout: timeout}
}

// Run starts name with stdin attached and waits for it to exit.
func (r *CommandRunner) Run(ctx context.Context, stdin string, name string, args ...string) error {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.defaultTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	err := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", name, ctxErr)
		}
		return fmt.Errorf("%s cancelled: %w", name, ctxErr)
	}

	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s failed: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s failed: %w", name, err)
	}

	return nil
}

// Player plays an audio file with an external program.
type Player struct {
	command string
	runner  Runner
}

// NewPlayer creates a player. ffplay gets flags that keep it headless and
// quiet; any other program receives only the file path.
func NewPlayer(command string, runner Runner) *Player {
	if command == "" {
		command = "ffplay"
	}
	return &Player{command: command, runner: runner}
}

// Play blocks until playback of path finishes.
func (p *Player) Play(ctx context.Context, path string) error {
	var args []string
	if baseName(p.command) == "ffplay" {
		args = append(args, "-nodisp", "-autoexit", "-loglevel", "quiet")
	}
	args = append(args, path)

	return p.runner.Run(ctx, "", p.command, args...)
}

func baseName(command string) string {
	if i := strings.LastIndexAny(command, `/\`); i >= 0 {
		command = command[i+1:]
	}
	return strings.TrimSuffix(command, ".exe")
}
