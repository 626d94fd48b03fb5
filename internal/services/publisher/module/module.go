// Package module wires the production publisher as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	brokerdom "takt/internal/services/broker/domain"
	ccdom "takt/internal/services/configcache/domain"
	"takt/internal/services/publisher/domain"
	"takt/internal/services/publisher/repo"
	"takt/internal/services/publisher/service"
)

// Ports exported by the publisher module
type Ports struct {
	Engine domain.EnginePort
}

// Module implements modkit.Module for the production publisher
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the publisher module
func New(
	deps modkit.Deps,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
) *Module {
	opts := FromConfig(deps.Cfg)

	eng := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		cfgPort,
		sched,
		pub,
		service.Config{
			HourlyLookback: opts.HourlyLookback,
			HourlyCatchup:  opts.HourlyCatchup,
		},
	)

	return &Module{deps: deps, ports: Ports{Engine: eng}}
}

// Name returns the module name
func (m *Module) Name() string { return "publisher" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: the publisher has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(
	deps modkit.Deps,
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
) {
	modreg.Register("publisher", New(deps, cfgPort, sched, pub))
}
