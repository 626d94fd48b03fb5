package store

import (
	"context"
	"fmt"
	"time"

	"takt/internal/platform/store/bus"
	chx "takt/internal/platform/store/ch"
	"takt/internal/platform/store/mq"
	"takt/internal/platform/store/pg"
)

// openPG opens pg and wraps it with our sql adapter
func openPG(ctx context.Context, cfg Config, s *Store) (TxRunner, error) {
	var tracer pg.QueryTracer
	if cfg.PG.LogSQL {
		tracer = pg.Tracer(s.Log)
	}

	p, err := pg.Open(ctx, pg.Config{
		URL:      cfg.PG.URL,
		MaxConns: cfg.PG.MaxConns,
		SlowMs:   cfg.PG.SlowQueryMs,
	}, tracer, nil)
	if err != nil {
		return nil, err
	}

	// Connection guardrails: ping with retry/backoff using the *pool* directly
	const (
		maxAttempts    = 20
		pingTimeout    = 3 * time.Second
		backoffStart   = 150 * time.Millisecond
		backoffCeiling = 2 * time.Second
	)

	var lastErr error
	backoff := backoffStart
	for i := 0; i < maxAttempts; i++ {
		toCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		lastErr = p.Pool.Ping(toCtx) // <-- no adapter, no SQL trace line
		cancel()

		if lastErr == nil {
			a := newPGAdapter(p) // publish adapter only after the pool is healthy
			s.PG = a
			return a, nil
		}
		if ctx.Err() != nil {
			p.Close() // close the pool we opened
			return nil, ctx.Err()
		}
		time.Sleep(backoff)
		if backoff < backoffCeiling {
			backoff *= 2
			if backoff > backoffCeiling {
				backoff = backoffCeiling
			}
		}
	}

	p.Close()
	return nil, fmt.Errorf("postgres ping failed after %d attempts: %w", maxAttempts, lastErr)
}

func openCH(ctx context.Context, cfg Config, _ *Store) (Clickhouse, error) {
	role := cfg.CH.Role
	if role == "" {
		role = cfg.AppName
	}
	c, err := chx.Open(ctx, chx.Config{URL: cfg.CH.URL, Role: role})
	if err != nil {
		return nil, err
	}
	return newCHAdapter(c), nil
}

func openBus(ctx context.Context, cfg Config, _ *Store) (Bus, error) {
	name := cfg.Bus.Name
	if name == "" {
		name = cfg.AppName
	}
	b, err := bus.Open(ctx, bus.Config{URL: cfg.Bus.URL, Name: name})
	if err != nil {
		return nil, err
	}
	return newBusAdapter(b), nil
}

func openMQ(ctx context.Context, cfg Config, _ *Store) (Broker, error) {
	clientID := cfg.MQ.ClientID
	if clientID == "" {
		clientID = cfg.AppName
	}
	m, err := mq.Open(ctx, mq.Config{
		Servers:  cfg.MQ.Servers,
		Default:  cfg.MQ.Default,
		ClientID: clientID,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
