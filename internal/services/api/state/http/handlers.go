// Package http provides the live state introspection endpoints
package http

import (
	"net/http"
	"sort"

	"takt/internal/modkit/httpkit"
	rollupdom "takt/internal/services/rollup/domain"
)

// Ports are the engine seams the state surface reads
type Ports struct {
	Rollup rollupdom.RunnerPort
}

type handlers struct {
	ports Ports
}

// Register mounts the state routes
func Register(r httpkit.Router, p Ports) {
	h := &handlers{ports: p}

	httpkit.Get(r, "/stations", h.stations)
}

// StationsResponse is the live state snapshot
type StationsResponse struct {
	Count    int                      `json:"count"    example:"42"`
	Stations []rollupdom.StationState `json:"stations"`
}

// swagger:route GET /state/stations State stateStations
// @Summary Live per-station rollup state
// @Tags State
// @Produce json
// @Success 200 type StationsResponse ok
// @Router /state/stations [get]
func (h *handlers) stations(r *http.Request) (any, error) {
	snap := h.ports.Rollup.StateSnapshot()
	if len(snap) == 0 {
		// this process does not run the tick loop; serve the open rows
		// the engine last flushed
		persisted, err := h.ports.Rollup.PersistedState(r.Context())
		if err != nil {
			return nil, err
		}
		snap = persisted
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].StationID < snap[j].StationID })
	return StationsResponse{Count: len(snap), Stations: snap}, nil
}
