package https

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foldhost/internal/remote"

	"github.com/rs/zerolog"
)

// LegoAuthority obtains certificates in-process over DNS-01 and uploads
// them to the target's live directory.
type LegoAuthority struct {
	Transport   remote.Transport
	Obtainer    Obtainer
	LiveDir     string
	RenewBefore time.Duration
	Logger      zerolog.Logger

	now func() time.Time
}

func NewLegoAuthority(t remote.Transport, o Obtainer, liveDir string, renewBeforeDays int, logger zerolog.Logger) *LegoAuthority {
	return &LegoAuthority{
		Transport:   t,
		Obtainer:    o,
		LiveDir:     liveDir,
		RenewBefore: time.Duration(renewBeforeDays) * 24 * time.Hour,
		Logger:      logger,
		now:         time.Now,
	}
}

func (l *LegoAuthority) Issue(ctx context.Context, subject, rootDomain, email string) (IssueStatus, error) {
	fullchain, privkey := CertPaths(l.LiveDir, subject)

	current, err := l.Transport.ReadFile(ctx, fullchain)
	switch {
	case err == nil:
		verr := CheckValidity(current, subject, l.RenewBefore, l.clock())
		if verr == nil {
			return StatusAlreadyValid, nil
		}
		l.Logger.Info().Str("subject", subject).Str("reason", verr.Error()).Msg("certificate needs renewal")
	case remote.IsNotFound(err):
	default:
		return StatusFailed, fmt.Errorf("read %s: %w", fullchain, err)
	}

	certPEM, keyPEM, err := l.Obtainer.Obtain(ctx, []string{subject}, email)
	if err != nil {
		return StatusFailed, err
	}
	if len(certPEM) == 0 || len(keyPEM) == 0 {
		return StatusFailed, errors.New("acme returned empty certificate material")
	}

	// key first: a fullchain without its key must never become visible
	if err := l.Transport.WriteFile(ctx, privkey, keyPEM, 0600); err != nil {
		return StatusFailed, fmt.Errorf("upload %s: %w", privkey, err)
	}
	if err := l.Transport.WriteFile(ctx, fullchain, certPEM, 0644); err != nil {
		return StatusFailed, fmt.Errorf("upload %s: %w", fullchain, err)
	}
	return StatusIssued, nil
}

func (l *LegoAuthority) HasMaterial(ctx context.Context, subject string) bool {
	return materialPresent(ctx, l.Transport, l.LiveDir, subject)
}

func (l *LegoAuthority) clock() time.Time {
	if l.now == nil {
		return time.Now()
	}
	return l.now()
}
