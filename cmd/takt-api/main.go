// @title         Takt Ops API
// @version       0.1.0
// @description   Health, admin triggers, and state introspection for the production engines

package main

import (
	"context"
	"time"

	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/config"
	"takt/internal/platform/logger"
	phttp "takt/internal/platform/net/http"
	"takt/internal/platform/store"

	"takt/internal/services/api"
)

func main() {
	root := config.New()
	apiCfg := root.Prefix("CORE_API_")
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	natsCfg := root.Prefix("SERVICE_NATS_")
	mqttCfg := root.Prefix("SERVICE_MQTT_")
	l := logger.Get()

	clock.SetSite(root.Prefix("CORE_").MayTZ("SITE_TZ", time.Local))

	st, err := store.Open(
		context.Background(),
		store.Config{
			AppName: "takt-api",
			PG: store.PGConfig{
				Enabled:     true,
				URL:         pgCfg.MustString("DBURL"),
				MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
				SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
				LogSQL:      pgCfg.MayBool("LOG_SQL", true),
			},
			CH: store.CHConfig{
				Enabled: true,
				URL:     chCfg.MustString("DBURL"),
				Role:    "api",
			},
			Bus: store.BusConfig{
				Enabled: natsCfg.MayString("URL", "") != "",
				URL:     natsCfg.MayString("URL", ""),
			},
			MQ: store.MQConfig{
				Enabled:  true,
				Servers:  store.ParseServers(mqttCfg.MayCSV("SERVERS", nil)),
				Default:  mqttCfg.MayString("DEFAULT", ""),
				ClientID: mqttCfg.MayString("CLIENT_ID", "takt-api"),
			},
		},
		store.WithLogger(*l),
	)
	if err != nil {
		l.Panic().Err(err).Msg("store.Open failed")
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()
	repokit.MustGuard(context.Background(), st)

	// http server (reads CORE_API_PORT / CORE_API_ADDR)
	srv := phttp.NewServer(apiCfg)

	api.Mount(
		srv.Router(),
		api.Options{
			Config:         apiCfg,
			Store:          st,
			Logger:         l,
			EnableSwagger:  apiCfg.MayBool("SWAGGER", true),
			EnableProfiler: apiCfg.MayBool("PROFILER", false),
		},
	)

	if err := srv.Run(context.Background()); err != nil {
		l.Panic().Err(err).Msg("http server stopped")
	}
}
