package keeper

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"foldhost/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRuntime struct {
	mu       sync.Mutex
	started  []string
	torn     []string
	running  []string
	listErr  error
	failUp   map[string]error
	failDown map[string]error
}

func (m *mockRuntime) EnsureRunning(ctx context.Context, name, appDir string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUp[name]; err != nil {
		return err
	}
	m.started = append(m.started, name+"@"+appDir)
	return nil
}

func (m *mockRuntime) ListRunning(ctx context.Context) ([]string, error) {
	return m.running, m.listErr
}

func (m *mockRuntime) TearDown(ctx context.Context, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failDown[identity]; err != nil {
		return err
	}
	m.torn = append(m.torn, identity)
	return nil
}

type lowerRuntime struct{ mockRuntime }

func (l *lowerRuntime) Identity(app string) string { return strings.ToLower(app) }

func TestDetectOrphans(t *testing.T) {
	assert.Equal(t, []string{"b"}, DetectOrphans([]string{"a", "b", "c"}, []string{"a", "c"}))
	assert.Equal(t, []string{"a", "z"}, DetectOrphans([]string{"z", "a", "z"}, nil))
	assert.Empty(t, DetectOrphans(nil, []string{"a"}))
	assert.Empty(t, DetectOrphans([]string{"a"}, []string{"a", "missing"}))
}

func TestDetectOrphansStaticNameIsOrphan(t *testing.T) {
	// blog turned static: still running, but no longer a desired container
	orphans := DetectOrphans([]string{"abc", "blog"}, []string{"abc"})
	assert.Equal(t, []string{"blog"}, orphans)
}

func TestEnsureRunningContinuesPastFailure(t *testing.T) {
	rt := &mockRuntime{failUp: map[string]error{"abc": errors.New("build failed")}}
	k := NewKeeper(rt, "/var/www/apps", zerolog.Nop())
	k.Parallelism = 3

	instances, conflicts := k.Instances([]models.PortAssignment{
		{App: "abc", Port: 3000},
		{App: "myapi", Port: 3001},
		{App: "xyz", Port: 3002},
	})
	assert.Empty(t, conflicts)
	outcomes := k.EnsureRunning(context.Background(), instances)

	require.Len(t, outcomes, 3)
	assert.Equal(t, "abc", outcomes[0].Name)
	assert.Error(t, outcomes[0].Err)
	assert.NoError(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)

	sort.Strings(rt.started)
	assert.Equal(t, []string{"myapi@/var/www/apps/myapi", "xyz@/var/www/apps/xyz"}, rt.started)
}

func TestTearDownBestEffort(t *testing.T) {
	rt := &mockRuntime{failDown: map[string]error{"b": errors.New("daemon unreachable")}}
	k := NewKeeper(rt, "/var/www/apps", zerolog.Nop())

	outcomes := k.TearDown(context.Background(), []string{"a", "b", "c"})
	require.Len(t, outcomes, 3)
	assert.Error(t, outcomes[1].Err)
	assert.Equal(t, []string{"a", "c"}, rt.torn)
}

func TestObserveSortsAndPropagatesErrors(t *testing.T) {
	rt := &mockRuntime{running: []string{"c", "a"}}
	k := NewKeeper(rt, "/srv", zerolog.Nop())

	running, err := k.Observe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, running)
	assert.Equal(t, []string{"c", "a"}, rt.running)

	rt.listErr = errors.New("docker not installed")
	_, err = k.Observe(context.Background())
	assert.Error(t, err)
}

func TestIdentityMapping(t *testing.T) {
	k := NewKeeper(&mockRuntime{}, "/srv", zerolog.Nop())
	assert.Equal(t, "Zeta", k.Identity("Zeta"))

	k = NewKeeper(&lowerRuntime{}, "/srv", zerolog.Nop())
	assert.Equal(t, []string{"zeta", "abc"}, k.DesiredIdentities([]string{"Zeta", "abc"}))
}

func TestInstancesReportIdentityConflicts(t *testing.T) {
	rt := &lowerRuntime{}
	k := NewKeeper(rt, "/var/www/apps", zerolog.Nop())

	instances, conflicts := k.Instances([]models.PortAssignment{
		{App: "Blog", Port: 3000},
		{App: "abc", Port: 3001},
		{App: "blog", Port: 3002},
	})

	require.Len(t, instances, 2)
	assert.Equal(t, "Blog", instances[0].Name)
	assert.Equal(t, "abc", instances[1].Name)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "blog", conflicts[0].Name)
	assert.ErrorIs(t, conflicts[0].Err, ErrIdentityConflict)
	assert.Contains(t, conflicts[0].Err.Error(), `"Blog" and "blog"`)
}

// hangingRuntime blocks every call until its context ends.
type hangingRuntime struct{}

func (hangingRuntime) EnsureRunning(ctx context.Context, name, appDir string, port int) error {
	<-ctx.Done()
	return ctx.Err()
}

func (hangingRuntime) ListRunning(ctx context.Context) ([]string, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (hangingRuntime) TearDown(ctx context.Context, identity string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestTimeoutsBecomeFailures(t *testing.T) {
	k := NewKeeper(hangingRuntime{}, "/var/www/apps", zerolog.Nop())
	k.Timeout = 50 * time.Millisecond
	k.Parallelism = 2

	start := time.Now()
	instances, _ := k.Instances([]models.PortAssignment{{App: "a", Port: 3000}, {App: "b", Port: 3001}})
	outcomes := k.EnsureRunning(context.Background(), instances)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, context.DeadlineExceeded, o.Name)
	}

	outcomes = k.TearDown(context.Background(), []string{"old"})
	require.Len(t, outcomes, 1)
	assert.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)

	_, err := k.Observe(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Less(t, time.Since(start), 5*time.Second)
}
