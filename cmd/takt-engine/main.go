// takt-engine hosts the periodic production engines in one process:
// rollup, CT/targets, overcycle, and the production publisher, all on a
// shared scheduler with singleton jobs so a slow tick coalesces instead
// of queueing.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"

	"takt/internal/modkit"
	"takt/internal/modkit/module"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/config"
	"takt/internal/platform/logger"
	"takt/internal/platform/store"

	brokermod "takt/internal/services/broker/module"
	ccmod "takt/internal/services/configcache/module"
	histmod "takt/internal/services/historian/module"
	ocmod "takt/internal/services/overcycle/module"
	pubmod "takt/internal/services/publisher/module"
	rollupmod "takt/internal/services/rollup/module"
	targetsmod "takt/internal/services/targets/module"
)

func main() {
	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	natsCfg := root.Prefix("SERVICE_NATS_")
	mqttCfg := root.Prefix("SERVICE_MQTT_")
	engCfg := root.Prefix("CORE_ENGINE_")
	l := logger.Get()

	clock.SetSite(root.Prefix("CORE_").MayTZ("SITE_TZ", time.Local))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "takt-engine",
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 8)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
		CH: store.CHConfig{
			Enabled: true,
			URL:     chCfg.MustString("DBURL"),
			Role:    "engine",
		},
		Bus: store.BusConfig{
			Enabled: natsCfg.MayString("URL", "") != "",
			URL:     natsCfg.MayString("URL", ""),
		},
		MQ: store.MQConfig{
			Enabled:  true,
			Servers:  store.ParseServers(mqttCfg.MayCSV("SERVERS", nil)),
			Default:  mqttCfg.MayString("DEFAULT", ""),
			ClientID: mqttCfg.MayString("CLIENT_ID", "takt-engine"),
		},
	}, store.WithLogger(*l))
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	repokit.MustGuard(ctx, st)

	deps := modkit.Deps{
		Log: *l,
		Cfg: root,
		PG:  st.PG,
		CH:  st.CH,
		Bus: st.Bus,
		MQ:  st.MQ,
	}

	historian := histmod.New(deps)
	reader := module.MustPortsOf[histmod.Ports](historian).Reader

	configcache := ccmod.New(deps, reader)
	ccPorts := module.MustPortsOf[ccmod.Ports](configcache)

	broker := brokermod.New(deps)
	pub := module.MustPortsOf[brokermod.Ports](broker).Publisher

	rollup := rollupmod.New(deps, reader, ccPorts.Config, ccPorts.Sched)
	targets := targetsmod.New(deps, reader, ccPorts.Config, ccPorts.Sched)
	overcycle := ocmod.New(deps, reader, ccPorts.Config, ccPorts.Sched, pub)
	publisher := pubmod.New(deps, ccPorts.Config, ccPorts.Sched, pub)

	for _, m := range []module.Module{historian, configcache, broker, rollup, targets, overcycle, publisher} {
		module.Register(m.Name(), m.Ports())
	}

	runner := module.MustPortsOf[rollupmod.Ports](rollup).Runner
	ct := module.MustPortsOf[targetsmod.Ports](targets).Engine
	oc := module.MustPortsOf[ocmod.Ports](overcycle).Engine
	pending := module.MustPortsOf[pubmod.Ports](publisher).Engine

	// other processes broadcast cache invalidation over the bus
	if st.Bus != nil {
		sub, err := st.Bus.Subscribe("config.invalidate", func(_ string, data []byte) {
			var req struct {
				StationID *int64 `json:"station_id"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				l.Debug().Err(err).Msg("undecodable invalidate broadcast")
				return
			}
			ccPorts.Config.Invalidate(req.StationID)
			l.Info().Msg("config caches invalidated by broadcast")
		})
		if err != nil {
			l.Warn().Err(err).Msg("invalidate subscription failed")
		} else {
			defer func() { _ = sub.Unsubscribe() }()
		}
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		l.Panic().Err(err).Msg("scheduler init failed")
	}

	every := func(key string, def int) time.Duration {
		return time.Duration(engCfg.MayInt(key, def)) * time.Second
	}
	jobs := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"rollup", every("ROLLUP_SEC", 5), runner.Tick},
		{"targets", every("TARGETS_SEC", 5), ct.Tick},
		{"overcycle", every("OVERCYCLE_SEC", 30), oc.Tick},
		{"publisher", every("PUBLISH_SEC", 5), pending.PublishPending},
	}
	for _, j := range jobs {
		j := j
		_, err := sched.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(func() {
				if err := j.run(ctx); err != nil {
					l.Warn().Err(err).Str("engine", j.name).Msg("tick finished with error")
				}
			}),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			l.Panic().Err(err).Str("engine", j.name).Msg("job registration failed")
		}
	}

	sched.Start()
	l.Info().Msg("engines online")

	<-ctx.Done()
	l.Info().Msg("shutting down")
	if err := sched.Shutdown(); err != nil {
		l.Error().Err(err).Msg("scheduler shutdown failed")
	}
}
