// Package api provides the ops HTTP API for the engines
package api

import (
	"net/http"

	"takt/internal/platform/config"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	phttp "takt/internal/platform/net/http"
	"takt/internal/platform/store"

	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	"takt/internal/modkit/module"
	"takt/internal/modkit/swaggerkit"

	adminmod "takt/internal/services/api/admin/module"
	metamod "takt/internal/services/api/meta/module"
	statemod "takt/internal/services/api/state/module"

	brokermod "takt/internal/services/broker/module"
	ccmod "takt/internal/services/configcache/module"
	histmod "takt/internal/services/historian/module"
	pubmod "takt/internal/services/publisher/module"
	rollupmod "takt/internal/services/rollup/module"
)

// Options are the API options
type Options struct {
	Config         config.Conf
	Store          *store.Store
	Logger         *logger.Logger
	EnableSwagger  bool
	EnableProfiler bool
}

// Mount mounts the ops API onto the given router. The admin surface
// drives its own engine instances against the shared store, so a
// backfill or publish catch-up runs here and lands in the same tables
// the daemon reads
func Mount(r phttp.Router, opt Options) {
	deps := modkit.Deps{
		Cfg: opt.Config,
		PG:  opt.Store.PG,
		CH:  opt.Store.CH,
		Bus: opt.Store.Bus,
		MQ:  opt.Store.MQ,
	}

	// engine wiring: historian feeds the config caches, both feed the
	// rollup and publisher instances the admin endpoints drive
	historian := histmod.New(deps)
	reader := module.MustPortsOf[histmod.Ports](historian).Reader

	configcache := ccmod.New(deps, reader)
	ccPorts := module.MustPortsOf[ccmod.Ports](configcache)

	broker := brokermod.New(deps)
	pub := module.MustPortsOf[brokermod.Ports](broker).Publisher

	rollup := rollupmod.New(deps, reader, ccPorts.Config, ccPorts.Sched)
	runner := module.MustPortsOf[rollupmod.Ports](rollup).Runner

	publisher := pubmod.New(deps, ccPorts.Config, ccPorts.Sched, pub)
	pending := module.MustPortsOf[pubmod.Ports](publisher).Engine

	admin := adminmod.New(deps, modkit.WithPorts(adminmod.Ports{
		Config:    ccPorts.Config,
		Rollup:    runner,
		Publisher: pending,
		Bus:       deps.Bus,
	}))
	mods := []module.Module{
		metamod.New(deps),
		statemod.New(deps, modkit.WithPorts(statemod.Ports{
			Rollup: runner,
		})),
	}

	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		swaggerkit.Mount(r, opt.EnableSwagger)
		phttp.MountProfiler(r, "/debug", opt.EnableProfiler)

		for _, m := range mods {
			module.Register(m.Name(), m.Ports())
			m.MountRoutes(api)
		}

		// admin mutates state, so it rides behind the shared ops token
		// (empty token leaves the routes open for local dev)
		module.Register(admin.Name(), admin.Ports())
		httpkit.Protected(api, opt.Config.MayString("OPS_TOKEN", ""), func(gr httpkit.Router) {
			admin.MountRoutes(gr)
		})
	})

	// flat probes and scrape endpoint outside the versioned tree
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		for _, p := range []store.Pinger{pingerOf(opt.Store.PG), pingerOf(opt.Store.CH)} {
			if p == nil {
				continue
			}
			if err := p.Ping(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(err.Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
}

// pingerOf returns the seam as a Pinger, nil when it is absent or does
// not expose Ping
func pingerOf(v any) store.Pinger {
	if v == nil {
		return nil
	}
	if p, ok := v.(store.Pinger); ok {
		return p
	}
	return nil
}
