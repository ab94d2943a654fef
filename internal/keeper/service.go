package keeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"foldhost/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Keeper reconciles running containers against the desired topology.
type Keeper struct {
	Runtime     Runtime
	AppsRoot    string
	Parallelism int
	Timeout     time.Duration
	Logger      zerolog.Logger
}

func NewKeeper(rt Runtime, appsRoot string, logger zerolog.Logger) *Keeper {
	return &Keeper{
		Runtime:     rt,
		AppsRoot:    appsRoot,
		Parallelism: 1,
		Timeout:     2 * time.Minute,
		Logger:      logger,
	}
}

// Identity maps an app name to the runtime's service identity.
func (k *Keeper) Identity(app string) string {
	if m, ok := k.Runtime.(identityMapper); ok {
		return m.Identity(app)
	}
	return app
}

// ErrIdentityConflict two apps map to the same runtime identity.
var ErrIdentityConflict = errors.New("runtime identity already taken")

// Instances builds the start list from the port table. An app whose identity
// is already claimed by an earlier app is left out and reported as a
// conflict; starting it would replace the earlier app's containers.
func (k *Keeper) Instances(ports []models.PortAssignment) ([]Instance, []Outcome) {
	out := make([]Instance, 0, len(ports))
	var conflicts []Outcome
	owner := make(map[string]string, len(ports))
	for _, p := range ports {
		id := k.Identity(p.App)
		if first, taken := owner[id]; taken {
			conflicts = append(conflicts, Outcome{
				Name: p.App,
				Err:  fmt.Errorf("%w: %q and %q both map to %q", ErrIdentityConflict, first, p.App, id),
			})
			continue
		}
		owner[id] = p.App
		out = append(out, Instance{Name: p.App, Dir: path.Join(k.AppsRoot, p.App), Port: p.Port})
	}
	return out, conflicts
}

// Observe lists running services on the target.
func (k *Keeper) Observe(ctx context.Context) ([]string, error) {
	ctx, cancel := k.withTimeout(ctx)
	defer cancel()

	running, err := k.Runtime.ListRunning(ctx)
	if err != nil {
		return nil, err
	}
	out := append([]string(nil), running...)
	sort.Strings(out)
	return out, nil
}

// EnsureRunning starts every instance. A failing app never stops the others;
// the returned outcomes are in input order.
func (k *Keeper) EnsureRunning(ctx context.Context, instances []Instance) []Outcome {
	outcomes := make([]Outcome, len(instances))
	k.fanOut(ctx, len(instances), func(ctx context.Context, i int) {
		inst := instances[i]
		cctx, cancel := k.withTimeout(ctx)
		defer cancel()

		err := k.Runtime.EnsureRunning(cctx, inst.Name, inst.Dir, inst.Port)
		if err != nil {
			k.Logger.Warn().Err(err).Str("app", inst.Name).Int("port", inst.Port).Msg("container start failed")
		} else {
			k.Logger.Info().Str("app", inst.Name).Int("port", inst.Port).Msg("container running")
		}
		outcomes[i] = Outcome{Name: inst.Name, Err: err}
	})
	return outcomes
}

// TearDown removes each orphan, best-effort.
func (k *Keeper) TearDown(ctx context.Context, orphans []string) []Outcome {
	outcomes := make([]Outcome, len(orphans))
	k.fanOut(ctx, len(orphans), func(ctx context.Context, i int) {
		name := orphans[i]
		cctx, cancel := k.withTimeout(ctx)
		defer cancel()

		err := k.Runtime.TearDown(cctx, name)
		if err != nil {
			k.Logger.Warn().Err(err).Str("service", name).Msg("orphan teardown failed")
		} else {
			k.Logger.Info().Str("service", name).Msg("orphan torn down")
		}
		outcomes[i] = Outcome{Name: name, Err: err}
	})
	return outcomes
}

// DesiredIdentities maps containerized app names to runtime identities.
func (k *Keeper) DesiredIdentities(apps []string) []string {
	out := make([]string, 0, len(apps))
	for _, a := range apps {
		out = append(out, k.Identity(a))
	}
	return out
}

func (k *Keeper) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if k.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, k.Timeout)
}

// fanOut runs fn for 0..n-1 with at most Parallelism workers.
func (k *Keeper) fanOut(ctx context.Context, n int, fn func(context.Context, int)) {
	limit := k.Parallelism
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
}

// DetectOrphans returns running − desired, sorted.
func DetectOrphans(running, desired []string) []string {
	want := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		want[d] = struct{}{}
	}

	seen := make(map[string]struct{}, len(running))
	orphans := make([]string, 0)
	for _, r := range running {
		if _, ok := want[r]; ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		orphans = append(orphans, r)
	}
	sort.Strings(orphans)
	return orphans
}
