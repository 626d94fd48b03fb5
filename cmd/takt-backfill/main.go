// takt-backfill densely recomputes one past local day from the
// historian and upserts hour and shift rows. Safe to re-run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"takt/internal/modkit"
	"takt/internal/modkit/module"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/config"
	"takt/internal/platform/logger"
	"takt/internal/platform/store"

	ccmod "takt/internal/services/configcache/module"
	histmod "takt/internal/services/historian/module"
	rollupmod "takt/internal/services/rollup/module"
)

func main() {
	var (
		dateStr = flag.String("date", "", "local date to recompute, e.g. 2026-03-01")
		zero    = flag.Bool("zero", false, "write zero rows for hours with no history")
		chunk   = flag.Int("chunk", 500, "rows per upsert flush (>=1)")
	)
	flag.Parse()

	root := config.New()
	pgCfg := root.Prefix("SERVICE_PGSQL_")
	chCfg := root.Prefix("SERVICE_CLICKHOUSE_")
	l := logger.Get()

	clock.SetSite(root.Prefix("CORE_").MayTZ("SITE_TZ", time.Local))

	if *dateStr == "" {
		log.Fatal("-date is required (YYYY-MM-DD)")
	}
	date, err := clock.ParseLocalDate(*dateStr)
	if err != nil {
		log.Fatalf("bad -date: %v", err)
	}
	if *chunk < 1 {
		log.Fatal("-chunk must be >= 1")
	}

	st, err := store.Open(context.Background(), store.Config{
		AppName: "takt-backfill",
		PG: store.PGConfig{
			Enabled:     true,
			URL:         pgCfg.MustString("DBURL"),
			MaxConns:    int32(pgCfg.MayInt("MAX_CONNS", 4)),
			SlowQueryMs: pgCfg.MayInt("SLOW_MS", 500),
			LogSQL:      pgCfg.MayBool("LOG_SQL", false),
		},
		CH: store.CHConfig{
			Enabled: true,
			URL:     chCfg.MustString("DBURL"),
			Role:    "backfill",
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

	repokit.MustGuard(context.Background(), st)

	deps := modkit.Deps{
		Log: *l,
		Cfg: root,
		PG:  st.PG,
		CH:  st.CH,
	}

	historian := histmod.New(deps)
	reader := module.MustPortsOf[histmod.Ports](historian).Reader

	configcache := ccmod.New(deps, reader)
	ccPorts := module.MustPortsOf[ccmod.Ports](configcache)

	rollup := rollupmod.New(deps, reader, ccPorts.Config, ccPorts.Sched)
	runner := module.MustPortsOf[rollupmod.Ports](rollup).Runner

	res, err := runner.BackfillDay(context.Background(), date, *zero, *chunk)
	if err != nil {
		l.Fatal().Err(err).Msg("backfill failed")
	}
	fmt.Printf("backfill %s: %d hourly rows, %d shift rows upserted\n",
		*dateStr, res.HourlyUpserted, res.ShiftUpserted)
}
