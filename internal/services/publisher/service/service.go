// Package service implements the production publisher: it drains the
// rollup tables of rows due for publish, renders the dashboard payloads
// with break-aware live targets, and marks finished windows so closed
// rows publish exactly once. Open rows republish on every pass, which
// gives at-least-once delivery against idempotent consumers
package service

import (
	"context"
	"fmt"
	"time"

	"takt/internal/core/payload"
	"takt/internal/core/topic"
	"takt/internal/modkit/repokit"
	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	"takt/internal/platform/metrics"
	brokerdom "takt/internal/services/broker/domain"
	ccdom "takt/internal/services/configcache/domain"
	"takt/internal/services/publisher/domain"
	"takt/internal/services/publisher/repo"
)

// Config controls the hourly publish windows
type Config struct {
	HourlyLookback time.Duration // open hours republish window, default 6h
	HourlyCatchup  time.Duration // closed unpublished catch-up window, default 48h
}

func (c *Config) defaults() {
	if c.HourlyLookback <= 0 {
		c.HourlyLookback = 6 * time.Hour
	}
	if c.HourlyCatchup <= 0 {
		c.HourlyCatchup = 48 * time.Hour
	}
}

// Engine is the production publisher
type Engine struct {
	DB     repokit.TxRunner
	Binder repokit.Binder[repo.Storage]
	Config ccdom.ConfigPort
	Sched  ccdom.SchedulePort
	Pub    brokerdom.PublisherPort
	Cfg    Config

	now func() time.Time
}

// New constructs the publisher engine
func New(
	db repokit.TxRunner,
	binder repokit.Binder[repo.Storage],
	cfgPort ccdom.ConfigPort,
	sched ccdom.SchedulePort,
	pub brokerdom.PublisherPort,
	cfg Config,
) *Engine {
	if db == nil {
		panic("publisher.Engine requires a non nil TxRunner")
	}
	if binder == nil {
		panic("publisher.Engine requires a non nil Repo binder")
	}
	cfg.defaults()
	return &Engine{
		DB:     db,
		Binder: binder,
		Config: cfgPort,
		Sched:  sched,
		Pub:    pub,
		Cfg:    cfg,
		now:    time.Now,
	}
}

// PublishPending implements domain.EnginePort
func (e *Engine) PublishPending(ctx context.Context) error {
	l := logger.Named("publisher")
	started := e.now()
	now := e.now()

	r := e.Binder.Bind(e.DB)

	var tickErr error
	hourly, err := r.HourlyToPublish(ctx, now.Add(-e.Cfg.HourlyLookback), now.Add(-e.Cfg.HourlyCatchup))
	if err != nil {
		l.Warn().Err(err).Msg("hourly rows unavailable")
		tickErr = err
	}
	shifts, err := r.EndedShiftsToPublish(ctx, clock.LocalDate(now), clock.LocalDate(now.AddDate(0, 0, -1)))
	if err != nil {
		l.Warn().Err(err).Msg("shift rows unavailable")
		tickErr = err
	}

	var weekly []domain.WeekPublishRow
	if settings, err := e.Config.Settings(ctx); err == nil {
		weekStart := clock.LocalDate(clock.WeekStartLocal(now, settings.WeekStartDOW))
		weekly, err = r.WeeklyToPublish(ctx, weekStart)
		if err != nil {
			l.Warn().Err(err).Msg("weekly rows unavailable")
			tickErr = err
		}
	} else {
		l.Warn().Err(err).Msg("settings unavailable, weekly skipped")
	}

	hier := e.hierarchyFor(ctx, hourly, shifts, weekly)

	hourMarks := e.publishHourly(ctx, now, hourly, hier)
	shiftMarks := e.publishShifts(ctx, now, shifts, hier)
	weekMarks := e.publishWeekly(ctx, now, weekly, hier)

	if len(hourMarks)+len(shiftMarks)+len(weekMarks) > 0 {
		err := e.DB.Tx(ctx, func(q repokit.Queryer) error {
			m := e.Binder.Bind(q)
			if err := m.MarkHourlyPublished(ctx, hourMarks); err != nil {
				return err
			}
			if err := m.MarkShiftPublished(ctx, shiftMarks); err != nil {
				return err
			}
			return m.MarkWeeklyPublished(ctx, weekMarks)
		})
		if err != nil {
			l.Warn().Err(err).Msg("publish marks failed, rows republish next pass")
			tickErr = err
		}
	}

	metrics.ObserveTick("publisher", started, tickErr)
	return nil
}

func (e *Engine) hierarchyFor(
	ctx context.Context,
	hourly []domain.HourPublishRow,
	shifts []domain.ShiftPublishRow,
	weekly []domain.WeekPublishRow,
) map[int64]topic.Hierarchy {
	seen := map[int64]bool{}
	var ids []int64
	add := func(id int64) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, r := range hourly {
		add(r.StationID)
	}
	for _, r := range shifts {
		add(r.StationID)
	}
	for _, r := range weekly {
		add(r.StationID)
	}
	if len(ids) == 0 {
		return map[int64]topic.Hierarchy{}
	}
	hier, err := e.Config.Hierarchy(ctx, ids)
	if err != nil {
		logger.Named("publisher").Warn().Err(err).Msg("hierarchy unavailable, publish skipped this pass")
		return map[int64]topic.Hierarchy{}
	}
	return hier
}

// publishHourly sends every hourly row and returns the closed unpublished
// ones to mark. LiveTarget prorates over break-aware working time
func (e *Engine) publishHourly(
	ctx context.Context,
	now time.Time,
	rows []domain.HourPublishRow,
	hier map[int64]topic.Hierarchy,
) []domain.HourPublishRow {
	var marks []domain.HourPublishRow
	for _, r := range rows {
		h, ok := hier[r.StationID]
		if !ok {
			continue
		}
		hourLocal := r.HourStartUTC.In(clock.Site)
		hourEnd := hourLocal.Add(time.Hour)

		live := 0
		if !r.IsClosed && r.TargetPartsBase > 0 && e.Sched != nil {
			total, err := e.Sched.WorkingMS(ctx, hourLocal, hourEnd, r.LineID)
			if err == nil && total > 0 {
				upTo := now
				if hourEnd.Before(upTo) {
					upTo = hourEnd
				}
				elapsed, err := e.Sched.WorkingMS(ctx, hourLocal, upTo, r.LineID)
				if err == nil {
					live = payload.LiveTarget(r.TargetPartsBase, elapsed/1000, total/1000, r.IsClosed)
				}
			}
		}

		env := payload.HourlyEnvelope{
			Version:   payload.Version,
			Timestamp: payload.Stamp(now.In(clock.Site)),
			HourlyProduction: payload.HourlyProduction{
				ProductionDate: clock.LocalDate(hourLocal) + "T00:00:00",
				ProductionHour: fmt.Sprintf("%02d:00", hourLocal.Hour()),
				Actual:         int(r.TotalParts),
				HourlyTarget:   r.TargetPartsBase,
				LiveTarget:     live,
				BucketID:       payload.BucketLocal(hourLocal),
			},
		}
		e.send(ctx, h, "HourlyProduction", env)

		if r.IsClosed && !r.IsPublished {
			marks = append(marks, r)
		}
	}
	return marks
}

// publishShifts sends every shift row for today and yesterday; only rows
// whose window already ended get marked
func (e *Engine) publishShifts(
	ctx context.Context,
	now time.Time,
	rows []domain.ShiftPublishRow,
	hier map[int64]topic.Hierarchy,
) []domain.ShiftPublishRow {
	var marks []domain.ShiftPublishRow
	for _, r := range rows {
		h, ok := hier[r.StationID]
		if !ok {
			continue
		}
		if r.ShiftStartLocal.IsZero() || r.ShiftEndLocal.IsZero() {
			continue
		}
		ended := !r.ShiftEndLocal.After(now)

		live := 0
		if !ended && r.TargetPartsBase > 0 && e.Sched != nil {
			total, err := e.Sched.WorkingMS(ctx, r.ShiftStartLocal, r.ShiftEndLocal, r.LineID)
			if err == nil && total > 0 {
				upTo := now
				if r.ShiftEndLocal.Before(upTo) {
					upTo = r.ShiftEndLocal
				}
				elapsed, err := e.Sched.WorkingMS(ctx, r.ShiftStartLocal, upTo, r.LineID)
				if err == nil {
					live = payload.LiveTarget(r.TargetPartsBase, elapsed/1000, total/1000, ended)
				}
			}
		}

		env := payload.ShiftEnvelope{
			Version:   payload.Version,
			Timestamp: payload.Stamp(now.In(clock.Site)),
			ShiftProduction: payload.ShiftProduction{
				ProductionDate:   r.ShiftLocalDate + "T00:00:00",
				Actual:           int(r.TotalParts),
				ProductionTarget: r.TargetPartsBase,
				LiveTarget:       live,
				BucketID:         payload.ShiftBucket(now.In(clock.Site), r.ShiftStartLocal, r.ShiftEndLocal),
			},
		}
		e.send(ctx, h, "ShiftProduction", env)

		if ended && !r.IsPublished {
			marks = append(marks, r)
		}
	}
	return marks
}

// publishWeekly sends the current week rows; each published row is marked
func (e *Engine) publishWeekly(
	ctx context.Context,
	now time.Time,
	rows []domain.WeekPublishRow,
	hier map[int64]topic.Hierarchy,
) []domain.WeekPublishRow {
	var marks []domain.WeekPublishRow
	for _, r := range rows {
		h, ok := hier[r.StationID]
		if !ok {
			continue
		}
		name := h.Station
		if name == "" {
			name = fmt.Sprintf("Station_%d", r.StationID)
		}
		env := payload.WeeklyEnvelope{
			Version:   payload.Version,
			Timestamp: payload.Stamp(now.In(clock.Site)),
			ProductionWeekly: payload.WeeklyProduction{
				StnID: name,
				Value: int(r.TotalParts),
			},
		}
		e.send(ctx, h, "ProductionWeekly", env)
		marks = append(marks, r)
	}
	return marks
}

func (e *Engine) send(ctx context.Context, h topic.Hierarchy, scope string, env any) {
	if e.Pub == nil {
		return
	}
	err := e.Pub.Publish(ctx, e.Pub.TopicFor(h, scope), env, 0, false)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		logger.Named("publisher").Warn().Err(err).Str("scope", scope).Msg("publish failed")
	}
	metrics.PublishTotal.WithLabelValues(scope, outcome).Inc()
}
