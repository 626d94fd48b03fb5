// Package module wires the rollup engine as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/rollup/domain"
	"takt/internal/services/rollup/repo"
	"takt/internal/services/rollup/service"
)

// Ports exported by the rollup module
type Ports struct {
	Runner domain.RunnerPort
}

// Module implements modkit.Module for the rollup engine
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the rollup module
func New(deps modkit.Deps, hist histdom.ReaderPort, cfgPort ccdom.ConfigPort, sched ccdom.SchedulePort) *Module {
	opts := FromConfig(deps.Cfg)

	svc := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		hist,
		cfgPort,
		sched,
		service.Config{
			IdleFlush: opts.IdleFlush,
			Grace:     opts.Grace,
			Chunk:     opts.Chunk,
		},
	)

	return &Module{deps: deps, ports: Ports{Runner: svc}}
}

// Name returns the module name
func (m *Module) Name() string { return "rollup" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: rollup has no HTTP routes of its own
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps, hist histdom.ReaderPort, cfgPort ccdom.ConfigPort, sched ccdom.SchedulePort) {
	modreg.Register("rollup", New(deps, hist, cfgPort, sched))
}
