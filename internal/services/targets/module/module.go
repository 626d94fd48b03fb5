// Package module wires the CT and target engine as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/targets/domain"
	"takt/internal/services/targets/repo"
	"takt/internal/services/targets/service"
)

// Ports exported by the targets module
type Ports struct {
	Engine domain.EnginePort
}

// Module implements modkit.Module for the targets engine
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the targets module
func New(deps modkit.Deps, hist histdom.ReaderPort, cfgPort ccdom.ConfigPort, sched ccdom.SchedulePort) *Module {
	opts := FromConfig(deps.Cfg)

	eng := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		hist,
		cfgPort,
		sched,
		service.Config{
			DebounceTicks: opts.DebounceTicks,
			RepairEvery:   opts.RepairEvery,
			RepairHours:   opts.RepairHours,
			RepairDays:    opts.RepairDays,
		},
	)

	return &Module{deps: deps, ports: Ports{Engine: eng}}
}

// Name returns the module name
func (m *Module) Name() string { return "targets" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: targets has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps, hist histdom.ReaderPort, cfgPort ccdom.ConfigPort, sched ccdom.SchedulePort) {
	modreg.Register("targets", New(deps, hist, cfgPort, sched))
}
