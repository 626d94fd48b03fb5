package service

import (
	"context"
	"time"

	"takt/internal/platform/clock"
	"takt/internal/platform/logger"
	ccdom "takt/internal/services/configcache/domain"
	"takt/internal/services/rollup/domain"
)

// bootstrapDay seeds dense rows for today: one closed hourly row per
// station for every finished hour since local midnight, plus a row per
// shift scheduled so far. Stations without a historian tag still get
// zero rows so downstream queries never see gaps
func (s *Service) bootstrapDay(ctx context.Context, now time.Time, stations []ccdom.Station, b *batch) error {
	midnight := clock.Midnight(now)
	topOfHour := clock.FloorHourUTC(now)

	for hour := clock.FloorHourUTC(midnight); hour.Before(topOfHour); hour = hour.Add(time.Hour) {
		for _, st := range stations {
			row := domain.HourRow{
				StationID:    st.ID,
				LineID:       st.LineID,
				HourStartUTC: hour,
				IsClosed:     true,
			}
			if st.HasTag {
				d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, hour, hour.Add(time.Hour))
				if err != nil {
					logger.C(ctx).Warn().Err(err).Int64("station_id", st.ID).
						Time("hour", hour).Msg("rollup: bootstrap hour skipped")
					continue
				}
				row.TotalParts = d
			}
			b.hours = append(b.hours, row)
		}
	}

	if s.Sched == nil {
		return nil
	}
	shifts, err := s.Sched.ShiftsOnDate(ctx, now)
	if err != nil {
		return err
	}
	byLine := map[int64][]int{}
	for i, w := range shifts {
		byLine[w.LineID] = append(byLine[w.LineID], i)
	}
	for _, st := range stations {
		for _, i := range byLine[st.LineID] {
			w := shifts[i]
			if w.Start.After(now) {
				continue
			}
			row := domain.ShiftRow{
				StationID:      st.ID,
				LineID:         st.LineID,
				ShiftID:        w.ShiftID,
				ShiftLocalDate: w.LocalDate,
				IsClosed:       !w.End.After(now),
			}
			if st.HasTag {
				end := w.End
				if end.After(now) {
					end = now
				}
				d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, w.Start, end)
				if err != nil {
					continue
				}
				row.TotalParts = d
			}
			b.shifts = append(b.shifts, row)
		}
	}
	return nil
}

// BackfillDay implements domain.RunnerPort: dense recompute of a past
// local day straight from the historian. Idempotent; closed rows in
// postgres stay untouched thanks to the conflict guard
func (s *Service) BackfillDay(ctx context.Context, date time.Time, writeZeroOnNoData bool, chunk int) (domain.BackfillResult, error) {
	if chunk <= 0 {
		chunk = s.Cfg.Chunk
	}
	var res domain.BackfillResult

	stations, err := s.Config.Stations(ctx)
	if err != nil {
		return res, err
	}

	dayStart := clock.Midnight(date)
	dayEnd := dayStart.AddDate(0, 0, 1)

	var b batch
	for hour := clock.FloorHourUTC(dayStart); hour.Before(dayEnd); hour = hour.Add(time.Hour) {
		for _, st := range stations {
			var total int64
			if st.HasTag {
				d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, hour, hour.Add(time.Hour))
				if err != nil {
					logger.C(ctx).Warn().Err(err).Int64("station_id", st.ID).
						Time("hour", hour).Msg("rollup: backfill hour skipped")
					continue
				}
				total = d
			}
			if total == 0 && !writeZeroOnNoData {
				continue
			}
			b.hours = append(b.hours, domain.HourRow{
				StationID:    st.ID,
				LineID:       st.LineID,
				HourStartUTC: hour,
				TotalParts:   total,
				IsClosed:     true,
			})
		}
	}

	if s.Sched != nil {
		shifts, err := s.Sched.ShiftsOnDate(ctx, date)
		if err != nil {
			return res, err
		}
		for _, st := range stations {
			for _, w := range shifts {
				if w.LineID != st.LineID {
					continue
				}
				var total int64
				if st.HasTag {
					d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, w.Start, w.End)
					if err != nil {
						continue
					}
					total = d
				}
				if total == 0 && !writeZeroOnNoData {
					continue
				}
				b.shifts = append(b.shifts, domain.ShiftRow{
					StationID:      st.ID,
					LineID:         st.LineID,
					ShiftID:        w.ShiftID,
					ShiftLocalDate: w.LocalDate,
					TotalParts:     total,
					IsClosed:       true,
				})
			}
		}
	}

	if err := s.flushWith(ctx, &b, chunk); err != nil {
		return res, err
	}
	res.HourlyUpserted = len(b.hours)
	res.ShiftUpserted = len(b.shifts)
	return res, nil
}
