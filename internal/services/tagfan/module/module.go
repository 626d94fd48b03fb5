// Package module wires the tag-change fan-out as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	brokerdom "takt/internal/services/broker/domain"
	"takt/internal/services/tagfan/domain"
	"takt/internal/services/tagfan/repo"
	"takt/internal/services/tagfan/service"
)

// Ports exported by the tagfan module
type Ports struct {
	Fan domain.FanPort
}

// Module implements modkit.Module for the tag-change fan-out
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the tagfan module
func New(deps modkit.Deps, pub brokerdom.PublisherPort) *Module {
	opts := FromConfig(deps.Cfg)

	eng := service.New(
		repokit.TxRunner(deps.PG),
		repo.NewPG(),
		pub,
		deps.Bus,
		service.Config{
			StatusWindow: opts.StatusWindow,
			NodeWindow:   opts.NodeWindow,
			ConfigTTL:    opts.ConfigTTL,
			LookupTTL:    opts.LookupTTL,
			Subject:      opts.Subject,
		},
	)

	return &Module{deps: deps, ports: Ports{Fan: eng}}
}

// Name returns the module name
func (m *Module) Name() string { return "tagfan" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: tagfan has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps, pub brokerdom.PublisherPort) {
	modreg.Register("tagfan", New(deps, pub))
}
