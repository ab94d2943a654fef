package https

import (
	"context"
	"fmt"
	"path"

	"foldhost/internal/remote"
)

// IssueStatus is the per-subject result of an issuance attempt.
type IssueStatus int

const (
	StatusFailed IssueStatus = iota
	StatusIssued
	StatusAlreadyValid
)

func (s IssueStatus) String() string {
	switch s {
	case StatusIssued:
		return "issued"
	case StatusAlreadyValid:
		return "already_valid"
	default:
		return "failed"
	}
}

// MarshalText keeps summaries readable.
func (s IssueStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Succeeded treats already-valid the same as a fresh issuance.
func (s IssueStatus) Succeeded() bool {
	return s == StatusIssued || s == StatusAlreadyValid
}

// CertificateAuthority obtains certificates for subjects on the target.
type CertificateAuthority interface {
	Issue(ctx context.Context, subject, rootDomain, email string) (IssueStatus, error)
	HasMaterial(ctx context.Context, subject string) bool
}

// CertPaths returns the fullchain and key paths for subject under liveDir.
func CertPaths(liveDir, subject string) (fullchain, privkey string) {
	dir := path.Join(liveDir, subject)
	return path.Join(dir, "fullchain.pem"), path.Join(dir, "privkey.pem")
}

// materialPresent reports whether both certificate files exist on the target.
func materialPresent(ctx context.Context, t remote.Transport, liveDir, subject string) bool {
	fullchain, privkey := CertPaths(liveDir, subject)
	script := fmt.Sprintf("test -f %s && test -f %s", remote.ShellEscape(fullchain), remote.ShellEscape(privkey))
	_, err := remote.Shell(ctx, t, script)
	return err == nil
}
