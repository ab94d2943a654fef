package https

import (
	"context"
	"fmt"
	"strings"

	"foldhost/internal/remote"
)

// CertbotAuthority runs certbot in webroot mode on the target.
type CertbotAuthority struct {
	Transport     remote.Transport
	ChallengeRoot string
	LiveDir       string
}

func NewCertbotAuthority(t remote.Transport, challengeRoot, liveDir string) *CertbotAuthority {
	return &CertbotAuthority{Transport: t, ChallengeRoot: challengeRoot, LiveDir: liveDir}
}

// Args builds the certbot command line for one subject.
func (c *CertbotAuthority) Args(subject, email string) []string {
	args := []string{
		"certonly", "--webroot",
		"-w", c.ChallengeRoot,
		"-d", subject,
		"--non-interactive", "--agree-tos", "--keep-until-expiring",
		"--cert-name", subject,
	}
	if email != "" {
		args = append(args, "-m", email)
	} else {
		args = append(args, "--register-unsafely-without-email")
	}
	return args
}

func (c *CertbotAuthority) Issue(ctx context.Context, subject, rootDomain, email string) (IssueStatus, error) {
	if _, err := c.Transport.Run(ctx, "mkdir", "-p", c.ChallengeRoot); err != nil {
		return StatusFailed, fmt.Errorf("prepare challenge root: %w", err)
	}

	out, err := c.Transport.Run(ctx, "certbot", c.Args(subject, email)...)
	if err != nil {
		return StatusFailed, fmt.Errorf("certbot %s: %w", subject, err)
	}
	return certbotStatus(out), nil
}

func (c *CertbotAuthority) HasMaterial(ctx context.Context, subject string) bool {
	return materialPresent(ctx, c.Transport, c.LiveDir, subject)
}

// certbotStatus tells a no-op renewal apart from a fresh certificate.
func certbotStatus(output string) IssueStatus {
	lower := strings.ToLower(output)
	if strings.Contains(lower, "not yet due for renewal") || strings.Contains(lower, "no action taken") {
		return StatusAlreadyValid
	}
	return StatusIssued
}
