// Package service implements the historian read port over the repo
package service

import (
	"context"
	"time"

	"takt/internal/core/counter"
	"takt/internal/services/historian/domain"
	"takt/internal/services/historian/repo"
)

// Service composes the repo primitives into the engine-facing reads
type Service struct {
	Repo *repo.CH
}

// New constructs the historian service
func New(r *repo.CH) *Service {
	if r == nil {
		panic("historian.Service requires a non nil repo")
	}
	return &Service{Repo: r}
}

// Anchor implements domain.ReaderPort
func (s *Service) Anchor(ctx context.Context, path string, at time.Time) (float64, bool, error) {
	smp, ok, err := s.Repo.Bounding(ctx, path, at, domain.AnchorLookback)
	if err != nil || !ok {
		return 0, false, err
	}
	return smp.Value, true, nil
}

// PositiveDelta implements domain.ReaderPort. The bounding value at
// start seeds the peak so a window that opens mid-plateau counts only
// genuine increases
func (s *Service) PositiveDelta(ctx context.Context, path string, start, end time.Time) (int64, error) {
	series, err := s.Repo.Series(ctx, path, start, end)
	if err != nil {
		return 0, err
	}
	if bound, ok, err := s.Repo.Bounding(ctx, path, start, domain.AnchorLookback); err != nil {
		return 0, err
	} else if ok {
		series = append([]counter.Sample{bound}, series...)
	}
	return counter.PositiveDelta(series), nil
}

// FirstIncrementAfter implements domain.ReaderPort
func (s *Service) FirstIncrementAfter(ctx context.Context, path string, prev float64, start, end time.Time) (time.Time, bool, error) {
	series, err := s.Repo.Series(ctx, path, start, end)
	if err != nil {
		return time.Time{}, false, err
	}
	ts, ok := counter.FirstIncrementAfter(series, prev)
	return ts, ok, nil
}

// Samples implements domain.ReaderPort
func (s *Service) Samples(ctx context.Context, path string, start, end time.Time) ([]counter.Sample, error) {
	return s.Repo.Series(ctx, path, start, end)
}

// Latest implements domain.ReaderPort
func (s *Service) Latest(ctx context.Context, paths []string) (map[string]counter.Sample, error) {
	return s.Repo.Newest(ctx, paths, time.Now().Add(-domain.AnchorLookback))
}

// LatestText implements domain.ReaderPort
func (s *Service) LatestText(ctx context.Context, paths []string) (map[string]domain.TextSample, error) {
	return s.Repo.NewestText(ctx, paths, time.Now().Add(-domain.AnchorLookback))
}
