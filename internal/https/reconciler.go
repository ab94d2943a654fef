package https

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var errUnknownStatus = errors.New("authority reported failure without an error")

// IssueOutcome is the result for one subject.
type IssueOutcome struct {
	Subject         string      `json:"subject" yaml:"subject"`
	Status          IssueStatus `json:"status" yaml:"status"`
	MaterialPresent bool        `json:"material_present" yaml:"material_present"`
	Err             error       `json:"-" yaml:"-"`
}

// Reconciler asks the authority for every subject and records each result.
// A failure never stops the remaining subjects.
type Reconciler struct {
	Authority   CertificateAuthority
	RootDomain  string
	Email       string
	Parallelism int
	Timeout     time.Duration
	Logger      zerolog.Logger
}

func (r *Reconciler) Reconcile(ctx context.Context, subjects []string) []IssueOutcome {
	outcomes := make([]IssueOutcome, len(subjects))

	limit := r.Parallelism
	if limit < 1 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, subject := range subjects {
		g.Go(func() error {
			outcomes[i] = r.reconcileOne(ctx, subject)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (r *Reconciler) reconcileOne(ctx context.Context, subject string) IssueOutcome {
	ictx, cancel := r.withTimeout(ctx)
	status, err := r.Authority.Issue(ictx, subject, r.RootDomain, r.Email)
	cancel()

	if err == nil && status.Succeeded() {
		r.Logger.Info().Str("subject", subject).Str("status", status.String()).Msg("certificate ready")
		return IssueOutcome{Subject: subject, Status: status, MaterialPresent: true}
	}
	if err == nil {
		err = errUnknownStatus
	}

	// renewal failed: the previous certificate may still be usable
	mctx, cancel := r.withTimeout(ctx)
	present := r.Authority.HasMaterial(mctx, subject)
	cancel()

	r.Logger.Warn().Err(err).Str("subject", subject).Bool("material_present", present).Msg("certificate issuance failed")
	return IssueOutcome{Subject: subject, Status: StatusFailed, MaterialPresent: present, Err: err}
}

func (r *Reconciler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.Timeout)
}

// Unavailable lists subjects that have no usable certificate material.
func Unavailable(outcomes []IssueOutcome) []string {
	var out []string
	for _, o := range outcomes {
		if !o.Status.Succeeded() && !o.MaterialPresent {
			out = append(out, o.Subject)
		}
	}
	return out
}
