// Package module wires the admin endpoints into the API
package module

import (
	"net/http"

	modkit "takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	str "takt/internal/platform/strings"

	adminhttp "takt/internal/services/api/admin/http"
)

// Ports re-exports the handler port set for callers of New
type Ports = adminhttp.Ports

// Module implements the modkit.Module interface
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler
	ports  Ports

	subrouter func(httpkit.Router) httpkit.Router
	register  func(httpkit.Router)
}

// New constructs the admin module; the engine ports come in via
// modkit.WithPorts
func New(deps modkit.Deps, opts ...modkit.Option) modkit.Module {
	b := modkit.Build(append([]modkit.Option{
		modkit.WithName("admin"),
		modkit.WithPrefix("/admin"),
	}, opts...)...)

	ports, ok := b.Ports.(Ports)
	if !ok {
		panic("admin module requires Ports via modkit.WithPorts")
	}
	if ports.Config == nil || ports.Rollup == nil || ports.Publisher == nil {
		panic("admin module requires Config, Rollup, and Publisher ports")
	}

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    b.Prefix,
		mws:       b.Mw,
		ports:     ports,
		subrouter: b.Subrouter,
	}

	external := b.Register
	m.register = func(r httpkit.Router) {
		adminhttp.Register(r, m.ports)
		if external != nil {
			external(r)
		}
	}

	return m
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		if m.subrouter != nil {
			rr = m.subrouter(rr)
		}
		if m.register != nil {
			m.register(rr)
		}
	})
}

// Name implements the modkit.Module interface
func (m *Module) Name() string { return str.MustString(m.name, "admin") }

// Prefix implements the modkit.Module interface
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Middlewares implements the modkit.Module interface
func (m *Module) Middlewares() []func(http.Handler) http.Handler { return m.mws }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return m.ports }
