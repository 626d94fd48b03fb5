// Package module wires the historian reader as a modkit.Module
package module

import (
	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"

	histdom "takt/internal/services/historian/domain"
	histrepo "takt/internal/services/historian/repo"
	histservice "takt/internal/services/historian/service"
)

// Ports exported by the historian module
type Ports struct {
	Reader histdom.ReaderPort
}

// Module implements modkit.Module for the historian
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the historian module
func New(deps modkit.Deps) *Module {
	table := deps.Cfg.Prefix("CORE_HISTORIAN_").MayString("TABLE", "tag_history")
	svc := histservice.New(histrepo.New(deps.CH, table))

	m := &Module{deps: deps}
	m.ports = Ports{Reader: svc}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "historian" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: the historian has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps) {
	modreg.Register("historian", New(deps))
}
