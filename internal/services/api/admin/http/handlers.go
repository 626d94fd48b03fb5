// Package http provides the admin endpoints: cache invalidation,
// backfill, and publish catch-up
package http

import (
	"encoding/json"
	"net/http"
	"time"

	"takt/internal/modkit/httpkit"
	"takt/internal/platform/clock"
	perr "takt/internal/platform/errors"
	"takt/internal/platform/logger"
	"takt/internal/platform/store"
	"takt/internal/services/api/admin/domain"
	ccdom "takt/internal/services/configcache/domain"
	pubdom "takt/internal/services/publisher/domain"
	rollupdom "takt/internal/services/rollup/domain"
)

// InvalidateSubject is the bus subject other processes watch for cache
// invalidation broadcasts
const InvalidateSubject = "config.invalidate"

// defaultChunk bounds a backfill flush when the caller does not say
const defaultChunk = 500

// Ports are the engine seams the admin surface drives
type Ports struct {
	Config    ccdom.ConfigPort
	Rollup    rollupdom.RunnerPort
	Publisher pubdom.EnginePort
	Bus       store.Bus // may be nil, invalidation is then local only
}

type handlers struct {
	ports Ports
}

// Register mounts the admin routes
func Register(r httpkit.Router, p Ports) {
	h := &handlers{ports: p}

	httpkit.PostJSON(r, "/config/invalidate", h.invalidate)
	httpkit.PostJSON(r, "/backfill", h.backfill)
	httpkit.Post(r, "/publish/catchup", h.catchup)
}

// swagger:route POST /admin/config/invalidate Admin adminInvalidate
// @Summary Drop the config caches for one station or everything
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 type domain.InvalidateResponse ok
// @Router /admin/config/invalidate [post]
func (h *handlers) invalidate(r *http.Request, req domain.InvalidateRequest) (any, error) {
	h.ports.Config.Invalidate(req.StationID)

	scope := "all"
	if req.StationID != nil {
		scope = "station"
	}

	broadcast := false
	if h.ports.Bus != nil {
		body, _ := json.Marshal(req)
		if err := h.ports.Bus.Publish(InvalidateSubject, body); err != nil {
			logger.C(r.Context()).Warn().Err(err).Msg("invalidate broadcast failed")
		} else {
			broadcast = true
		}
	}

	return domain.InvalidateResponse{Invalidated: scope, Broadcast: broadcast}, nil
}

// swagger:route POST /admin/backfill Admin adminBackfill
// @Summary Dense recompute of one past local day
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 type domain.BackfillResponse ok
// @Router /admin/backfill [post]
func (h *handlers) backfill(r *http.Request, req domain.BackfillRequest) (any, error) {
	date, err := clock.ParseLocalDate(req.Date)
	if err != nil {
		return nil, perr.InvalidArgf("date %q is not a local date", req.Date)
	}
	chunk := req.Chunk
	if chunk <= 0 {
		chunk = defaultChunk
	}

	res, err := h.ports.Rollup.BackfillDay(r.Context(), date, req.WriteZero, chunk)
	if err != nil {
		return nil, err
	}
	return domain.BackfillResponse{
		Date:           req.Date,
		HourlyUpserted: res.HourlyUpserted,
		ShiftUpserted:  res.ShiftUpserted,
	}, nil
}

// swagger:route POST /admin/publish/catchup Admin adminCatchup
// @Summary Run one publish-pending pass now
// @Tags Admin
// @Produce json
// @Success 200 type domain.CatchupResponse ok
// @Router /admin/publish/catchup [post]
func (h *handlers) catchup(r *http.Request) (any, error) {
	started := time.Now()
	if err := h.ports.Publisher.PublishPending(r.Context()); err != nil {
		return nil, err
	}
	return domain.CatchupResponse{
		Ran:    true,
		TookMS: time.Since(started).Milliseconds(),
	}, nil
}
