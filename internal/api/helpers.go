package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/repositories"
)

// defaultPageLimit and maxPageLimit bound the paginated list endpoint
// (GET /users).
const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// paginationOpts reads limit/offset query parameters into a ListOptions,
// clamping limit to [1, maxPageLimit] and defaulting to defaultPageLimit.
func paginationOpts(r *http.Request) repositories.ListOptions {
	opts := repositories.ListOptions{Limit: defaultPageLimit, Offset: 0}

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			if n > maxPageLimit {
				n = maxPageLimit
			}
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	return opts
}

// parseUUID extracts and parses a URL path parameter as a UUID, writing a 400
// response and returning ok=false if the parameter is missing or malformed.
func parseUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		ErrBadRequest(w, "invalid "+param)
		return uuid.UUID{}, false
	}
	return id, true
}

// parseUUIDString parses a UUID from a plain string, for use with values
// pulled from JWT claims rather than the URL (e.g. claims.UserID).
func parseUUIDString(raw string) (uuid.UUID, error) {
	return uuid.Parse(raw)
}

// chiURLParam extracts a URL path parameter by name.
func chiURLParam(r *http.Request, param string) string {
	return chi.URLParam(r, param)
}
