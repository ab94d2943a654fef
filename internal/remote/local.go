package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// CommandRunner abstracts local command execution.
type CommandRunner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, int, error)
}

// ExecRunner executes commands on the local host with combined output.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err == nil {
		return out.Bytes(), 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out.Bytes(), -1, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out.Bytes(), exitErr.ExitCode(), err
	}

	exitCode := 1
	var execErr *exec.Error
	if errors.As(err, &execErr) {
		exitCode = 127
	}
	return out.Bytes(), exitCode, err
}

// LocalTransport treats the local host as the deploy target.
type LocalTransport struct {
	Runner CommandRunner
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{Runner: ExecRunner{}}
}

func (t *LocalTransport) Describe() string { return "local" }

func (t *LocalTransport) Run(ctx context.Context, cmd string, args ...string) (string, error) {
	out, code, err := t.Runner.Run(ctx, nil, cmd, args...)
	if err != nil {
		return string(out), &CommandError{Command: joinCommand(cmd, args), ExitCode: code, Output: string(out), Err: err}
	}
	return string(out), nil
}

func (t *LocalTransport) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".foldhost-tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Chmod(tmp, mode); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func (t *LocalTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return data, err
}
