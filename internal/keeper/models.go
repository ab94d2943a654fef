package keeper

import "context"

// Runtime is the container runtime on the target.
type Runtime interface {
	EnsureRunning(ctx context.Context, name, appDir string, port int) error
	ListRunning(ctx context.Context) ([]string, error)
	TearDown(ctx context.Context, identity string) error
}

// identityMapper is implemented by runtimes whose service identity differs
// from the app name.
type identityMapper interface {
	Identity(app string) string
}

// Instance is one containerized app the keeper keeps running.
type Instance struct {
	Name string // app name (folder)
	Dir  string // remote app directory
	Port int
}

// Outcome is the per-app result of a start or teardown.
type Outcome struct {
	Name string
	Err  error
}
