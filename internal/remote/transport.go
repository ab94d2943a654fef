package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNotFound is returned by ReadFile when the remote path does not exist.
var ErrNotFound = fmt.Errorf("remote file %w", os.ErrNotExist)

// missingFileExit is the exit status the read script uses for a missing file.
const missingFileExit = 44

// Transport runs commands and moves small files on a deploy target.
type Transport interface {
	Run(ctx context.Context, cmd string, args ...string) (string, error)
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error
	ReadFile(ctx context.Context, path string) ([]byte, error)
	Describe() string
}

// Shell runs script through sh -c on the transport.
func Shell(ctx context.Context, t Transport, script string) (string, error) {
	return t.Run(ctx, "sh", "-c", script)
}

// CommandError carries the output of a failed remote command.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *CommandError) Error() string {
	out := strings.TrimSpace(e.Output)
	if len(out) > 512 {
		out = out[len(out)-512:]
	}
	if out == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, out)
}

func (e *CommandError) Unwrap() error { return e.Err }

// IsNotFound reports whether err means the remote file is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func joinCommand(cmd string, args []string) string {
	if len(args) == 0 {
		return ShellEscape(cmd)
	}

	var builder strings.Builder
	builder.WriteString(ShellEscape(cmd))
	for _, arg := range args {
		builder.WriteByte(' ')
		builder.WriteString(ShellEscape(arg))
	}

	return builder.String()
}

// ShellEscape single-quotes value for a POSIX shell.
func ShellEscape(value string) string {
	if value == "" {
		return "''"
	}

	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

func readScript(path string) string {
	return fmt.Sprintf("if [ -f %[1]s ]; then cat %[1]s; else exit %[2]d; fi", ShellEscape(path), missingFileExit)
}

func writeScript(path string, mode os.FileMode) string {
	dir := path
	if i := strings.LastIndex(path, "/"); i > 0 {
		dir = path[:i]
	}
	tmp := path + ".foldhost-tmp"
	return fmt.Sprintf("mkdir -p %s && cat > %s && chmod %o %s && mv -f %s %s",
		ShellEscape(dir), ShellEscape(tmp), mode.Perm(), ShellEscape(tmp), ShellEscape(tmp), ShellEscape(path))
}
