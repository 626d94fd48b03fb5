package httpkit

import (
	"net/http"
	"strconv"
	"time"

	perrs "takt/internal/platform/errors"

	"github.com/go-chi/chi/v5"
)

// ParamInt64 reads a chi url param as int64
func ParamInt64(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, perrs.InvalidArgf("missing %s", name)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, perrs.InvalidArgf("%s must be an integer", name)
	}
	return v, nil
}

// QueryInt64 reads a query param as int64, returning def when absent
func QueryInt64(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, perrs.InvalidArgf("%s must be an integer", name)
	}
	return v, nil
}

// QueryDate reads a YYYY-MM-DD query param, returning the zero time when absent
func QueryDate(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	v, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, perrs.InvalidArgf("%s must be YYYY-MM-DD", name)
	}
	return v, nil
}

// QueryBool reads a query param as bool, returning def when absent
func QueryBool(r *http.Request, name string, def bool) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
