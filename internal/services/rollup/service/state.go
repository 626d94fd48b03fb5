package service

import (
	"context"
	"fmt"
	"time"

	"takt/internal/core/counter"
	"takt/internal/platform/clock"
	ccdom "takt/internal/services/configcache/domain"
	"takt/internal/services/rollup/domain"
)

// stationState is the per-station live accumulator. Created on first
// observation, mutated only by the engine's own tick
type stationState struct {
	lineID int64

	hourStart      time.Time // top of hour, UTC
	hourStartCount int64
	hourTotal      int64
	lastPeak       int64
	lastFlush      time.Time

	shiftID         int64 // 0 when no shift is active
	shiftDate       string
	shiftStart      time.Time
	shiftEnd        time.Time
	shiftStartCount int64
	shiftTotal      int64

	weekStart string // local week-start date
	weekTotal int64

	frozen bool

	// doneShiftKeys marks past shift windows already reconciled so a
	// second tick performs no further writes for them
	doneShiftKeys map[string]bool
}

func shiftKey(shiftID int64, localDate string) string {
	return fmt.Sprintf("%d|%s", shiftID, localDate)
}

// tickStation runs the full window state machine for one station.
// Closed rows are appended to the batch before re-opened rows
func (s *Service) tickStation(
	ctx context.Context,
	now time.Time,
	st ccdom.Station,
	sample counter.Sample,
	weekDOW int,
	b *batch,
) error {
	curr := liveCount(sample)

	ss, ok := s.state[st.ID]
	if !ok {
		var err error
		ss, err = s.initStation(ctx, now, st, curr, weekDOW)
		if err != nil {
			return err
		}
		s.state[st.ID] = ss
	}
	ss.frozen = false

	// Hour rollover: close the stored hour, then re-anchor
	nowHour := clock.FloorHourUTC(now)
	if !nowHour.Equal(ss.hourStart) {
		start, end := ss.hourStartCount, ss.lastPeak
		b.hours = append(b.hours, domain.HourRow{
			StationID:    st.ID,
			LineID:       st.LineID,
			HourStartUTC: ss.hourStart,
			TotalParts:   ss.hourTotal,
			StartCount:   &start,
			EndCount:     &end,
			IsClosed:     true,
		})
		b.marks = append(b.marks, domain.WatermarkRow{
			StationID:    st.ID,
			HourStartUTC: ss.hourStart,
			EndCount:     ss.lastPeak,
		})
		ss.hourStart = nowHour
		ss.hourStartCount = s.anchorOr(ctx, st.CounterPath, nowHour, curr)
		ss.hourTotal = 0
		ss.lastFlush = time.Time{} // force an open-row flush this tick
	}

	// Reset-safe accumulation across every open window
	add, peak := counter.Accumulate(ss.lastPeak, curr)
	ss.hourTotal += add
	if ss.shiftID != 0 {
		ss.shiftTotal += add
	}
	ss.weekTotal += add
	ss.lastPeak = peak

	// Idle flush of the open hour
	if ss.lastFlush.IsZero() || now.Sub(ss.lastFlush) >= s.Cfg.IdleFlush {
		start := ss.hourStartCount
		b.hours = append(b.hours, domain.HourRow{
			StationID:    st.ID,
			LineID:       st.LineID,
			HourStartUTC: ss.hourStart,
			TotalParts:   ss.hourTotal,
			StartCount:   &start,
			EndCount:     nil,
			IsClosed:     false,
		})
		ss.lastFlush = now
	}

	s.tickShift(ctx, now, st, curr, ss, b)
	s.tickWeek(ctx, now, st, ss, weekDOW, b)
	s.reconcileLate(ctx, now, st, ss, b)
	return nil
}

// initStation builds first-observation state anchored to the historian
func (s *Service) initStation(
	ctx context.Context,
	now time.Time,
	st ccdom.Station,
	curr int64,
	weekDOW int,
) (*stationState, error) {
	hourStart := clock.FloorHourUTC(now)
	hourTotal, err := s.Hist.PositiveDelta(ctx, st.CounterPath, hourStart, now)
	if err != nil {
		return nil, err
	}

	ss := &stationState{
		lineID:         st.LineID,
		hourStart:      hourStart,
		hourStartCount: s.anchorOr(ctx, st.CounterPath, hourStart, curr),
		hourTotal:      hourTotal,
		lastPeak:       curr,
		doneShiftKeys:  map[string]bool{},
	}

	if s.Sched != nil {
		if w, ok, err := s.Sched.ActiveShift(ctx, st.LineID, now); err == nil && ok {
			ss.shiftID = w.ShiftID
			ss.shiftDate = w.LocalDate
			ss.shiftStart = w.Start
			ss.shiftEnd = w.End
			ss.shiftStartCount = s.anchorOr(ctx, st.CounterPath, w.Start, curr)
			if d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, w.Start, now); err == nil {
				ss.shiftTotal = d
			}
		}
	}

	weekStart := clock.WeekStartLocal(now, weekDOW)
	ss.weekStart = clock.LocalDate(weekStart)
	if d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, weekStart, now); err == nil {
		ss.weekTotal = d
	}
	return ss, nil
}

// tickShift handles shift transitions and the every-tick open snapshot
// so deleted rows self-heal
func (s *Service) tickShift(ctx context.Context, now time.Time, st ccdom.Station, curr int64, ss *stationState, b *batch) {
	if s.Sched == nil {
		return
	}
	active, ok, err := s.Sched.ActiveShift(ctx, st.LineID, now)
	if err != nil {
		return
	}

	changed := false
	if ok {
		changed = active.ShiftID != ss.shiftID || active.LocalDate != ss.shiftDate
	} else {
		changed = ss.shiftID != 0
	}

	if changed {
		if ss.shiftID != 0 {
			start, end := ss.shiftStartCount, ss.lastPeak
			b.shifts = append(b.shifts, domain.ShiftRow{
				StationID:      st.ID,
				LineID:         st.LineID,
				ShiftID:        ss.shiftID,
				ShiftLocalDate: ss.shiftDate,
				TotalParts:     ss.shiftTotal,
				StartCount:     &start,
				EndCount:       &end,
				IsClosed:       true,
			})
			ss.doneShiftKeys[shiftKey(ss.shiftID, ss.shiftDate)] = true
		}
		if ok {
			ss.shiftID = active.ShiftID
			ss.shiftDate = active.LocalDate
			ss.shiftStart = active.Start
			ss.shiftEnd = active.End
			ss.shiftStartCount = s.anchorOr(ctx, st.CounterPath, active.Start, curr)
			ss.shiftTotal = 0
			if d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, active.Start, now); err == nil {
				ss.shiftTotal = d
			}
		} else {
			ss.shiftID = 0
			ss.shiftDate = ""
			ss.shiftTotal = 0
		}
	}

	if ss.shiftID != 0 {
		start := ss.shiftStartCount
		b.shifts = append(b.shifts, domain.ShiftRow{
			StationID:      st.ID,
			LineID:         st.LineID,
			ShiftID:        ss.shiftID,
			ShiftLocalDate: ss.shiftDate,
			TotalParts:     ss.shiftTotal,
			StartCount:     &start,
			EndCount:       nil,
			IsClosed:       false,
		})
	}
}

// tickWeek closes the stored week on rollover and re-seeds from the
// historian, then snapshots the open week
func (s *Service) tickWeek(ctx context.Context, now time.Time, st ccdom.Station, ss *stationState, weekDOW int, b *batch) {
	weekStart := clock.WeekStartLocal(now, weekDOW)
	weekDate := clock.LocalDate(weekStart)

	if weekDate != ss.weekStart {
		b.weeks = append(b.weeks, domain.WeekRow{
			StationID:      st.ID,
			LineID:         st.LineID,
			WeekStartLocal: ss.weekStart,
			TotalParts:     ss.weekTotal,
			IsClosed:       true,
		})
		ss.weekStart = weekDate
		ss.weekTotal = 0
		if d, err := s.Hist.PositiveDelta(ctx, st.CounterPath, weekStart, now); err == nil {
			ss.weekTotal = d
		}
	}

	b.weeks = append(b.weeks, domain.WeekRow{
		StationID:      st.ID,
		LineID:         st.LineID,
		WeekStartLocal: ss.weekStart,
		TotalParts:     ss.weekTotal,
		IsClosed:       false,
	})
}

// reconcileLate emits one anchored closed row for any shift window that
// ended within grace and was never finalized for this station
func (s *Service) reconcileLate(ctx context.Context, now time.Time, st ccdom.Station, ss *stationState, b *batch) {
	if s.Sched == nil {
		return
	}
	ended, ok, err := s.Sched.LastEndedShift(ctx, st.LineID, now, s.Cfg.Grace)
	if err != nil || !ok {
		return
	}
	key := shiftKey(ended.ShiftID, ended.LocalDate)
	if ss.doneShiftKeys[key] {
		return
	}
	if ss.shiftID == ended.ShiftID && ss.shiftDate == ended.LocalDate {
		// still tracked as the live shift; the transition path closes it
		return
	}

	total, err := s.Hist.PositiveDelta(ctx, st.CounterPath, ended.Start, ended.End)
	if err != nil {
		return
	}
	row := domain.ShiftRow{
		StationID:      st.ID,
		LineID:         st.LineID,
		ShiftID:        ended.ShiftID,
		ShiftLocalDate: ended.LocalDate,
		TotalParts:     total,
		IsClosed:       true,
	}
	if v, found, err := s.Hist.Anchor(ctx, st.CounterPath, ended.Start); err == nil && found {
		start := int64(v)
		row.StartCount = &start
	}
	if v, found, err := s.Hist.Anchor(ctx, st.CounterPath, ended.End); err == nil && found {
		end := int64(v)
		row.EndCount = &end
	}
	b.shifts = append(b.shifts, row)
	ss.doneShiftKeys[key] = true
}
