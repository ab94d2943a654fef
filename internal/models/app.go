package models

// Kind classifies a top-level app folder.
type Kind string

const (
	KindStatic        Kind = "static"
	KindContainerized Kind = "containerized"
)

// AppRecord is one top-level folder of the source repository.
// Identity is the folder name.
type AppRecord struct {
	Name string `json:"name" yaml:"name"`
	Kind Kind   `json:"kind" yaml:"kind"`
}

func (a AppRecord) Containerized() bool {
	return a.Kind == KindContainerized
}

// PortAssignment binds a containerized app to its loopback port.
type PortAssignment struct {
	App  string `json:"app" yaml:"app"`
	Port int    `json:"port" yaml:"port"`
}

// ObservedState is a snapshot of the target's live state, taken once per run.
type ObservedState struct {
	RunningServices     []string
	ActiveConfig        []byte
	ActiveConfigPresent bool
}
