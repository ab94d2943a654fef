package deploy

import (
	"foldhost/config"
	"foldhost/internal/router"
	"foldhost/internal/topology"
)

// Plan is what a deploy would converge to, computed without touching the
// target. Every subject is assumed to have certificate material.
type Plan struct {
	Topology topology.View `yaml:"topology" json:"topology"`
	Subjects []string      `yaml:"subjects" json:"subjects"`
	Config   string        `yaml:"-" json:"-"`
}

// BuildPlan classifies the source and renders the proxy config locally.
func BuildPlan(cfg *config.Config) (*Plan, error) {
	topo, err := topology.Load(cfg.Source, cfg.Domain, cfg.ReservedNames())
	if err != nil {
		return nil, fatal(StepDetectApps, ErrClassify, err)
	}

	return &Plan{
		Topology: topo.View(),
		Subjects: topo.Subjects(),
		Config:   string(router.Render(topo, RenderOptions(cfg, nil))),
	}, nil
}
