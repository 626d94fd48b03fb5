// takt-tagfan fans raw tag changes out to the plant broker: it
// subscribes to the change stream, coalesces bursts, builds
// status/node/cycle snapshots, publishes them over MQTT, and logs one
// typed row per publish.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"takt/internal/modkit"
	"takt/internal/modkit/module"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/config"
	"takt/internal/platform/logger"
	"takt/internal/platform/store"

	brokermod "takt/internal/services/broker/module"
	tagfanmod "takt/internal/services/tagfan/module"
)

func main() {
	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	natsCfg := root.Prefix("SERVICE_NATS_")
	mqttCfg := root.Prefix("SERVICE_MQTT_")
	l := logger.Get()

	clock.SetSite(root.Prefix("CORE_").MayTZ("SITE_TZ", time.Local))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Config{
		AppName: "takt-tagfan",
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
		Bus: store.BusConfig{
			Enabled: true,
			URL:     natsCfg.MustString("URL"),
		},
		MQ: store.MQConfig{
			Enabled:  true,
			Servers:  store.ParseServers(mqttCfg.MayCSV("SERVERS", nil)),
			Default:  mqttCfg.MayString("DEFAULT", ""),
			ClientID: mqttCfg.MayString("CLIENT_ID", "takt-tagfan"),
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
		Bus: st.Bus,
		MQ:  st.MQ,
	}

	broker := brokermod.New(deps)
	pub := module.MustPortsOf[brokermod.Ports](broker).Publisher

	tagfan := tagfanmod.New(deps, pub)
	module.Register(broker.Name(), broker.Ports())
	module.Register(tagfan.Name(), tagfan.Ports())

	fan := module.MustPortsOf[tagfanmod.Ports](tagfan).Fan
	if err := fan.Run(ctx); err != nil {
		l.Fatal().Err(err).Msg("tag fan stopped")
	}
	l.Info().Msg("shutting down")
}
