package deploy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"foldhost/config"
	"foldhost/internal/git"
	"foldhost/internal/https"
	"foldhost/internal/keeper"
	"foldhost/internal/landing"
	"foldhost/internal/metrics"
	"foldhost/internal/models"
	"foldhost/internal/remote"
	"foldhost/internal/router"
	"foldhost/internal/topology"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deps are the remote collaborators of a pipeline.
type Deps struct {
	Transport remote.Transport
	Syncer    remote.Syncer
	Runtime   keeper.Runtime
	Authority https.CertificateAuthority
	Metrics   *metrics.Recorder
}

// Pipeline converges one target toward the source tree. It keeps no state
// between runs; everything is re-derived from the source and the target.
type Pipeline struct {
	cfg    *config.Config
	deps   Deps
	keeper *keeper.Keeper
	logger zerolog.Logger
}

func NewPipeline(cfg *config.Config, deps Deps, logger zerolog.Logger) *Pipeline {
	k := keeper.NewKeeper(deps.Runtime, cfg.Paths.AppsRoot, logger)
	k.Parallelism = cfg.Parallelism
	k.Timeout = cfg.Timeouts.Remote

	return &Pipeline{cfg: cfg, deps: deps, keeper: k, logger: logger}
}

// runState carries one invocation's values between steps.
type runState struct {
	summary   *Summary
	topo      *topology.Topology
	observed  models.ObservedState
	outcomes  []https.IssueOutcome
	candidate []byte
	logger    zerolog.Logger
}

type stepFunc func(ctx context.Context, r *runState) error

const revisionTimeout = 10 * time.Second

// Run executes every step in order. Cancellation of ctx is only observed
// between steps; a step that has started always runs to completion.
// Recoverable failures are in the summary; the error is a *FatalError.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	parent := ctx
	ctx = context.WithoutCancel(ctx)

	runID := uuid.NewString()
	target := p.deps.Transport.Describe()
	logger := p.logger.With().Str("run_id", runID).Str("target", target).Logger()

	r := &runState{
		summary: &Summary{
			RunID:     runID,
			Target:    target,
			Domain:    p.cfg.Domain,
			StartedAt: time.Now().UTC(),
			Orphans:   []string{},
			TornDown:  []string{},
			Failures:  []FailureRecord{},
		},
		logger: logger,
	}

	p.readRevision(ctx, r)

	steps := []struct {
		step Step
		fn   stepFunc
	}{
		{StepSyncFiles, p.syncFiles},
		{StepDetectApps, p.detectApps},
		{StepStartContainers, p.startContainers},
		{StepStopOrphans, p.stopOrphans},
		{StepIssueCerts, p.issueCerts},
		{StepFixPermissions, p.fixPermissions},
		{StepRenderConfig, p.renderConfig},
		{StepValidateReload, p.validateAndReload},
	}

	var runErr error
	for _, s := range steps {
		if err := parent.Err(); err != nil {
			runErr = fatal(s.step, ErrCanceled, err)
			break
		}

		logger.Info().Str("step", string(s.step)).Msg("step started")
		start := time.Now()
		err := s.fn(ctx, r)
		elapsed := time.Since(start)

		failures := r.summary.failuresIn(s.step)
		r.summary.Steps = append(r.summary.Steps, StepTiming{Step: s.step, Duration: elapsed, Failures: failures})
		if p.deps.Metrics != nil {
			p.deps.Metrics.ObserveStep(string(s.step), elapsed, failures)
		}

		if err != nil {
			runErr = err
			break
		}
	}

	r.summary.FinishedAt = time.Now().UTC()
	if runErr != nil {
		r.summary.State = StepFailed
		r.summary.Error = runErr.Error()
		logger.Error().Err(runErr).Msg("deploy failed")
	} else {
		r.summary.State = StepDone
		logger.Info().Int("recoverable_failures", len(r.summary.recoverable)).Msg("deploy done")
	}
	p.writeMetrics(r)

	return r.summary, runErr
}

// readRevision stamps the source HEAD on the summary. The dirty check is
// bounded by revisionTimeout; without it the HEAD-only revision is kept.
func (p *Pipeline) readRevision(ctx context.Context, r *runState) {
	rctx, cancel := context.WithTimeout(ctx, revisionTimeout)
	defer cancel()

	rev, err := git.ReadRevision(rctx, p.cfg.Source)
	switch {
	case err == nil:
		r.summary.Revision = &rev
	case errors.Is(err, git.ErrStatusUnavailable):
		r.summary.Revision = &rev
		r.logger.Warn().Err(err).Str("revision", rev.Short).Msg("source dirty flag unknown")
	case errors.Is(err, git.ErrNotRepository):
	default:
		r.logger.Warn().Err(err).Msg("could not read source revision")
	}
}

func (p *Pipeline) writeMetrics(r *runState) {
	m := p.deps.Metrics
	if m == nil {
		return
	}
	m.Finish(r.summary.Succeeded(), r.summary.FinishedAt)
	if p.cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(p.cfg.MetricsFile); err != nil {
		r.logger.Warn().Err(err).Str("path", p.cfg.MetricsFile).Msg("metrics textfile not written")
	}
}

func (p *Pipeline) recordFailure(r *runState, step Step, subject string, err error) {
	se := &StepError{Step: step, Subject: subject, Err: err}
	r.summary.record(se)
	r.logger.Warn().Err(err).Str("step", string(step)).Str("subject", subject).Msg("recoverable failure")
}

func (p *Pipeline) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.Timeouts.Remote)
}

func (p *Pipeline) run(ctx context.Context, cmd string, args ...string) (string, error) {
	rctx, cancel := p.remoteCtx(ctx)
	defer cancel()
	return p.deps.Transport.Run(rctx, cmd, args...)
}

// syncExcludes keeps dot entries and tooling directories off the target.
// The root content directory is synced, except a generated landing page:
// the live copy stays in place (rsync never deletes excluded paths) until
// RENDER_CONFIG uploads the new one.
func (p *Pipeline) syncExcludes(generatedLanding bool) []string {
	excludes := []string{"/.*", ".git"}
	for _, name := range config.DefaultReserved {
		excludes = append(excludes, "/"+name)
	}
	for _, name := range p.cfg.Reserved {
		excludes = append(excludes, "/"+name)
	}
	if generatedLanding {
		excludes = append(excludes, "/"+p.cfg.Paths.RootDir+"/index.html")
	}
	return excludes
}

func (p *Pipeline) syncFiles(ctx context.Context, r *runState) error {
	if _, err := p.run(ctx, "mkdir", "-p", p.cfg.Paths.AppsRoot); err != nil {
		return fatal(StepSyncFiles, ErrSyncFailed, err)
	}

	_, generated, err := landing.LoadTemplate(p.cfg.Source, p.cfg.Paths.RootDir)
	if err != nil {
		// RENDER_CONFIG falls back to the built-in template
		generated = true
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.Timeouts.Sync)
	defer cancel()
	if err := p.deps.Syncer.Sync(sctx, p.cfg.Source, p.cfg.Paths.AppsRoot, p.syncExcludes(generated)); err != nil {
		return fatal(StepSyncFiles, ErrSyncFailed, err)
	}
	r.logger.Info().Str("source", p.cfg.Source).Str("dest", p.cfg.Paths.AppsRoot).Msg("files synced")
	return nil
}

func (p *Pipeline) detectApps(ctx context.Context, r *runState) error {
	topo, err := topology.Load(p.cfg.Source, p.cfg.Domain, p.cfg.ReservedNames())
	if err != nil {
		return fatal(StepDetectApps, ErrClassify, err)
	}
	r.topo = topo
	r.summary.Apps = topo.Apps()
	r.summary.Ports = topo.Ports()

	containerized := len(topo.Containerized())
	if p.deps.Metrics != nil {
		p.deps.Metrics.SetApps(string(models.KindContainerized), containerized)
		p.deps.Metrics.SetApps(string(models.KindStatic), len(r.summary.Apps)-containerized)
	}

	running, err := p.keeper.Observe(ctx)
	if err != nil {
		p.recordFailure(r, StepDetectApps, "", fmt.Errorf("list running services: %w", err))
		running = []string{}
	}
	r.observed.RunningServices = running

	rctx, cancel := p.remoteCtx(ctx)
	active, err := p.deps.Transport.ReadFile(rctx, p.cfg.Paths.ConfigTarget)
	cancel()
	switch {
	case err == nil:
		r.observed.ActiveConfig = active
		r.observed.ActiveConfigPresent = true
	case remote.IsNotFound(err):
	default:
		p.recordFailure(r, StepDetectApps, p.cfg.Paths.ConfigTarget, fmt.Errorf("read active config: %w", err))
	}

	r.logger.Info().
		Int("apps", len(r.summary.Apps)).
		Int("containerized", containerized).
		Strs("running", running).
		Bool("active_config", r.observed.ActiveConfigPresent).
		Msg("topology built")
	return nil
}

func (p *Pipeline) startContainers(ctx context.Context, r *runState) error {
	instances, conflicts := p.keeper.Instances(r.topo.Ports())
	for _, o := range conflicts {
		p.recordFailure(r, StepStartContainers, o.Name, o.Err)
	}
	for _, o := range p.keeper.EnsureRunning(ctx, instances) {
		if o.Err != nil {
			p.recordFailure(r, StepStartContainers, o.Name, o.Err)
		}
	}
	return nil
}

func (p *Pipeline) stopOrphans(ctx context.Context, r *runState) error {
	desired := p.keeper.DesiredIdentities(r.topo.Containerized())
	orphans := keeper.DetectOrphans(r.observed.RunningServices, desired)
	r.summary.Orphans = orphans

	for _, o := range p.keeper.TearDown(ctx, orphans) {
		if o.Err != nil {
			p.recordFailure(r, StepStopOrphans, o.Name, o.Err)
			continue
		}
		r.summary.TornDown = append(r.summary.TornDown, o.Name)
	}
	return nil
}

func (p *Pipeline) issueCerts(ctx context.Context, r *runState) error {
	rec := &https.Reconciler{
		Authority:   p.deps.Authority,
		RootDomain:  p.cfg.Domain,
		Email:       p.cfg.Email,
		Parallelism: p.cfg.Parallelism,
		Timeout:     p.cfg.Timeouts.Issue,
		Logger:      r.logger,
	}
	r.outcomes = rec.Reconcile(ctx, r.topo.Subjects())

	for _, o := range r.outcomes {
		res := CertificateResult{Subject: o.Subject, Status: o.Status, MaterialPresent: o.MaterialPresent}
		if o.Err != nil {
			res.Error = o.Err.Error()
			p.recordFailure(r, StepIssueCerts, o.Subject, o.Err)
		}
		r.summary.Certificates = append(r.summary.Certificates, res)
	}
	return nil
}

func (p *Pipeline) fixPermissions(ctx context.Context, r *runState) error {
	root := p.cfg.Paths.AppsRoot
	owner := p.cfg.WebUser + ":" + p.cfg.WebUser
	if _, err := p.run(ctx, "chown", "-R", owner, root); err != nil {
		p.recordFailure(r, StepFixPermissions, root, err)
	}
	if _, err := p.run(ctx, "chmod", "-R", "u=rwX,go=rX", root); err != nil {
		p.recordFailure(r, StepFixPermissions, root, err)
	}
	return nil
}

func (p *Pipeline) renderConfig(ctx context.Context, r *runState) error {
	p.uploadLanding(ctx, r)

	r.candidate = router.Render(r.topo, RenderOptions(p.cfg, https.Unavailable(r.outcomes)))
	if r.observed.ActiveConfigPresent && string(r.observed.ActiveConfig) == string(r.candidate) {
		r.logger.Info().Msg("proxy config unchanged")
	}
	return nil
}

func (p *Pipeline) uploadLanding(ctx context.Context, r *runState) {
	tmpl, generate, err := landing.LoadTemplate(p.cfg.Source, p.cfg.Paths.RootDir)
	if err != nil {
		p.recordFailure(r, StepRenderConfig, "landing", fmt.Errorf("read landing template: %w", err))
		tmpl, generate = landing.DefaultTemplate, true
	}
	if !generate {
		r.logger.Debug().Msg("landing page has no tokens, served as synced")
		return
	}

	page := landing.Render(tmpl, r.topo)
	dest := path.Join(p.cfg.Paths.AppsRoot, p.cfg.Paths.RootDir, "index.html")

	rctx, cancel := p.remoteCtx(ctx)
	defer cancel()
	if err := p.deps.Transport.WriteFile(rctx, dest, []byte(page), 0644); err != nil {
		p.recordFailure(r, StepRenderConfig, "landing", err)
	}
}

// RenderOptions maps the configured remote layout onto the renderer.
func RenderOptions(cfg *config.Config, unavailable []string) router.RenderOptions {
	return router.RenderOptions{
		AppsRoot:      cfg.Paths.AppsRoot,
		RootDir:       cfg.Paths.RootDir,
		LiveDir:       cfg.Paths.LiveDir,
		ChallengeRoot: cfg.Paths.ChallengeRoot,
		Unavailable:   unavailable,
	}
}

// validateAndReload swaps the candidate in, validates, reloads. Any failure
// restores the previous file byte for byte and issues no reload.
func (p *Pipeline) validateAndReload(ctx context.Context, r *runState) error {
	unlock := lockTarget(p.deps.Transport.Describe())
	defer unlock()

	active := p.cfg.Paths.ConfigTarget
	staged := active + ".staged"
	prev := active + ".prev"

	rctx, cancel := p.remoteCtx(ctx)
	err := p.deps.Transport.WriteFile(rctx, staged, r.candidate, 0644)
	cancel()
	if err != nil {
		return fatal(StepValidateReload, ErrSwap, fmt.Errorf("stage candidate: %w", err))
	}

	hadActive, err := p.fileExists(ctx, active)
	if err != nil {
		p.run(ctx, "rm", "-f", staged)
		return fatal(StepValidateReload, ErrSwap, err)
	}
	if hadActive {
		if _, err := p.run(ctx, "cp", "-f", active, prev); err != nil {
			p.run(ctx, "rm", "-f", staged)
			return fatal(StepValidateReload, ErrSwap, fmt.Errorf("back up active config: %w", err))
		}
	}

	if _, err := p.run(ctx, "mv", "-f", staged, active); err != nil {
		p.run(ctx, "rm", "-f", staged)
		return fatal(StepValidateReload, ErrSwap, fmt.Errorf("move candidate into place: %w", err))
	}

	restore := func() {
		var err error
		if hadActive {
			_, err = p.run(ctx, "mv", "-f", prev, active)
		} else {
			_, err = p.run(ctx, "rm", "-f", active, p.cfg.Paths.EnableLink)
		}
		if err != nil {
			r.logger.Error().Err(err).Str("path", active).Msg("restoring previous proxy config failed")
			return
		}
		r.logger.Warn().Str("path", active).Msg("previous proxy config restored")
	}

	if p.cfg.Paths.EnableLink != "" {
		if _, err := p.run(ctx, "ln", "-sfn", active, p.cfg.Paths.EnableLink); err != nil {
			restore()
			return fatal(StepValidateReload, ErrSwap, fmt.Errorf("enable config: %w", err))
		}
	}

	if out, err := p.run(ctx, "nginx", "-t"); err != nil {
		restore()
		return fatal(StepValidateReload, ErrInvalidProxy, fmt.Errorf("%w: %s", err, strings.TrimSpace(out)))
	}

	if _, err := p.run(ctx, "systemctl", "reload", "nginx"); err != nil {
		restore()
		return fatal(StepValidateReload, ErrReload, err)
	}

	r.logger.Info().Str("path", active).Int("bytes", len(r.candidate)).Msg("proxy config live")
	return nil
}

// fileExists runs `test -f`; exit status 1 means absent, anything else is
// a transport problem.
func (p *Pipeline) fileExists(ctx context.Context, file string) (bool, error) {
	_, err := p.run(ctx, "test", "-f", file)
	if err == nil {
		return true, nil
	}
	var cmdErr *remote.CommandError
	if errors.As(err, &cmdErr) && cmdErr.ExitCode == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check %s: %w", file, err)
}
