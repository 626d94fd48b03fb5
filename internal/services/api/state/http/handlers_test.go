package http

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	rollupdom "takt/internal/services/rollup/domain"
)

type fakeRunner struct {
	live      []rollupdom.StationState
	persisted []rollupdom.StationState
	err       error
	dbReads   int
}

func (f *fakeRunner) Tick(context.Context) error { return nil }

func (f *fakeRunner) BackfillDay(context.Context, time.Time, bool, int) (rollupdom.BackfillResult, error) {
	return rollupdom.BackfillResult{}, nil
}

func (f *fakeRunner) StateSnapshot() []rollupdom.StationState { return f.live }

func (f *fakeRunner) PersistedState(context.Context) ([]rollupdom.StationState, error) {
	f.dbReads++
	return f.persisted, f.err
}

func TestStations_FallsBackToPersistedRows(t *testing.T) {
	// the api process holds no live state; rows come from postgres
	run := &fakeRunner{persisted: []rollupdom.StationState{
		{StationID: 2, LineID: 1, HourTotal: 12},
		{StationID: 1, LineID: 1, HourTotal: 7},
	}}
	h := &handlers{ports: Ports{Rollup: run}}
	req := httptest.NewRequest("GET", "/api/v1/state/stations", nil)

	out, err := h.stations(req)
	if err != nil {
		t.Fatalf("stations: %v", err)
	}
	resp := out.(StationsResponse)
	if resp.Count != 2 {
		t.Fatalf("count=%d want 2", resp.Count)
	}
	if resp.Stations[0].StationID != 1 || resp.Stations[1].StationID != 2 {
		t.Fatalf("stations not sorted: %+v", resp.Stations)
	}
	if run.dbReads != 1 {
		t.Fatalf("db reads = %d, want 1", run.dbReads)
	}

	// a ticking process serves its own memory and never touches the db
	run.live = []rollupdom.StationState{{StationID: 9}}
	out, err = h.stations(req)
	if err != nil {
		t.Fatalf("stations live: %v", err)
	}
	if resp = out.(StationsResponse); resp.Count != 1 || resp.Stations[0].StationID != 9 {
		t.Fatalf("live response = %+v", resp)
	}
	if run.dbReads != 1 {
		t.Fatalf("db reads = %d, live path must not query", run.dbReads)
	}
}

func TestStations_PersistedReadErrorPropagates(t *testing.T) {
	run := &fakeRunner{err: errors.New("db down")}
	h := &handlers{ports: Ports{Rollup: run}}

	if _, err := h.stations(httptest.NewRequest("GET", "/api/v1/state/stations", nil)); err == nil {
		t.Fatal("expected error from the persisted read")
	}
}
