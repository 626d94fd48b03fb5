// Package module wires the overcycle engine as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	brokerdom "takt/internal/services/broker/domain"
	ccdom "takt/internal/services/configcache/domain"
	histdom "takt/internal/services/historian/domain"
	"takt/internal/services/overcycle/domain"
	"takt/internal/services/overcycle/repo"
	"takt/internal/services/overcycle/service"
)

// Ports exported by the overcycle module
type Ports struct {
	Engine domain.EnginePort
}

// Module implements modkit.Module for the overcycle engine
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the overcycle module
func New(
	deps modkit.Deps,
	hist histdom.ReaderPort,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
) *Module {
	opts := FromConfig(deps.Cfg)

	eng := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		hist,
		cfgPort,
		sched,
		pub,
		service.Config{
			Grace:  opts.Grace,
			MaxTop: opts.MaxTop,
		},
	)

	return &Module{deps: deps, ports: Ports{Engine: eng}}
}

// Name returns the module name
func (m *Module) Name() string { return "overcycle" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: overcycle has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(
	deps modkit.Deps,
	hist histdom.ReaderPort,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
) {
	modreg.Register("overcycle", New(deps, hist, cfgPort, sched, pub))
}
