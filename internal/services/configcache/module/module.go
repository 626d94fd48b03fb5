// Package module wires the plant configuration caches as a modkit.Module
package module

import (
	"context"

	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	ccdom "takt/internal/services/configcache/domain"
	ccrepo "takt/internal/services/configcache/repo"
	ccservice "takt/internal/services/configcache/service"
	histdom "takt/internal/services/historian/domain"
)

// Ports exported by the configcache module
type Ports struct {
	Config ccdom.ConfigPort
	Sched  ccdom.SchedulePort
}

// Module implements modkit.Module for the configuration caches
type Module struct {
	deps  modkit.Deps
	ports Ports
	svc   *ccservice.Service
}

// New constructs and wires the configcache module. reader may be nil;
// tag probing is then skipped and stations keep HasTag=false
func New(deps modkit.Deps, reader histdom.ReaderPort) *Module {
	opts := FromConfig(deps.Cfg)

	var prober ccdom.TagProber
	if reader != nil {
		prober = proberFor(reader)
	}

	svc := ccservice.New(
		repokit.TxRunner(deps.PG),
		ccrepo.NewPG(),
		prober,
		ccservice.Config{
			StationTTL:   opts.StationTTL,
			ShiftTTL:     opts.ShiftTTL,
			BreakTTL:     opts.BreakTTL,
			HierarchyTTL: opts.HierarchyTTL,
			PartThrottle: opts.PartThrottle,
			CriticalOnly: opts.CriticalOnly,
		},
	)

	m := &Module{deps: deps, svc: svc}
	m.ports = Ports{Config: svc, Sched: svc}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "configcache" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: configcache has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps, reader histdom.ReaderPort) {
	modreg.Register("configcache", New(deps, reader))
}

// proberFor adapts the historian Latest read into a presence probe
func proberFor(reader histdom.ReaderPort) ccdom.TagProber {
	return proberFunc(func(ctx context.Context, paths []string) (map[string]bool, error) {
		latest, err := reader.Latest(ctx, paths)
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool, len(paths))
		for _, p := range paths {
			_, ok := latest[p]
			out[p] = ok
		}
		return out, nil
	})
}

type proberFunc func(ctx context.Context, paths []string) (map[string]bool, error)

func (f proberFunc) Probe(ctx context.Context, paths []string) (map[string]bool, error) {
	return f(ctx, paths)
}
