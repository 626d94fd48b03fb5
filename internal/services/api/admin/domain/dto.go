// Package domain defines the admin endpoint DTOs
package domain

// InvalidateRequest asks the config caches to drop a station, or
// everything when no station is given
type InvalidateRequest struct {
	StationID *int64 `json:"station_id" validate:"omitempty,gt=0"`
}

// InvalidateResponse reports what was dropped
type InvalidateResponse struct {
	Invalidated string `json:"invalidated" example:"all"`
	Broadcast   bool   `json:"broadcast"   example:"true"`
}

// BackfillRequest runs a dense recompute of one past local day
type BackfillRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02" example:"2026-03-01"`
	WriteZero bool   `json:"write_zero"`
	Chunk     int    `json:"chunk" validate:"omitempty,gte=1,lte=5000" example:"500"`
}

// BackfillResponse reports the upserted row counts
type BackfillResponse struct {
	Date           string `json:"date"            example:"2026-03-01"`
	HourlyUpserted int    `json:"hourly_upserted" example:"384"`
	ShiftUpserted  int    `json:"shift_upserted"  example:"32"`
}

// CatchupResponse reports one forced publish pass
type CatchupResponse struct {
	Ran    bool  `json:"ran"     example:"true"`
	TookMS int64 `json:"took_ms" example:"120"`
}
