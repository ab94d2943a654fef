package remote

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Syncer mirrors a local directory onto the target.
type Syncer interface {
	Sync(ctx context.Context, localDir, remoteDir string, excludes []string) error
}

// RsyncSyncer shells out to the local rsync binary.
// An empty Host syncs into a local directory.
type RsyncSyncer struct {
	Host                        string
	Port                        int
	User                        string
	KeyPath                     string
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool

	Runner CommandRunner
}

func (s *RsyncSyncer) Sync(ctx context.Context, localDir, remoteDir string, excludes []string) error {
	runner := s.Runner
	if runner == nil {
		runner = ExecRunner{}
	}

	args := s.Args(localDir, remoteDir, excludes)
	out, code, err := runner.Run(ctx, nil, "rsync", args...)
	if err != nil {
		return &CommandError{Command: "rsync", ExitCode: code, Output: string(out), Err: err}
	}
	return nil
}

// Args builds the rsync argument list.
func (s *RsyncSyncer) Args(localDir, remoteDir string, excludes []string) []string {
	args := []string{"-az", "--delete"}
	for _, e := range excludes {
		args = append(args, "--exclude="+e)
	}

	if s.Host != "" {
		args = append(args, "-e", s.sshCommand())
	}

	args = append(args, withSlash(localDir), s.destination(remoteDir))
	return args
}

func (s *RsyncSyncer) destination(remoteDir string) string {
	dst := withSlash(remoteDir)
	if s.Host == "" {
		return dst
	}

	host := s.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if s.User != "" {
		host = s.User + "@" + host
	}
	return host + ":" + dst
}

func (s *RsyncSyncer) sshCommand() string {
	parts := []string{"ssh"}
	if s.Port != 0 {
		parts = append(parts, "-p", strconv.Itoa(s.Port))
	}
	if s.KeyPath != "" {
		parts = append(parts, "-i", ShellEscape(s.KeyPath))
	}
	if s.InsecureSkipHostKeyChecking {
		parts = append(parts, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null")
	} else {
		parts = append(parts, "-o", "StrictHostKeyChecking=yes")
		if s.KnownHostsPath != "" {
			parts = append(parts, "-o", ShellEscape(fmt.Sprintf("UserKnownHostsFile=%s", s.KnownHostsPath)))
		}
	}
	parts = append(parts, "-o", "BatchMode=yes")
	return strings.Join(parts, " ")
}

func withSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
