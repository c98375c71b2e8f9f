package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/collector"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/pool"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/registry"
	"github.com/wobujidao/PostgreSQL-Activity-Monitor/internal/warehouse"
)

// defaultTimelineLookback is used when the caller omits from/to query
// parameters (spec.md §4.8).
const defaultTimelineLookback = 24 * time.Hour

// StatsHandler exposes the Query API (spec.md §4.8/§6: server_timeline,
// database_timeline, and live current_activity).
type StatsHandler struct {
	reg    *registry.Service
	wh     *warehouse.Warehouse
	pool   *pool.Manager
	logger *zap.Logger
}

// NewStatsHandler creates a new StatsHandler.
func NewStatsHandler(reg *registry.Service, wh *warehouse.Warehouse, pm *pool.Manager, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{reg: reg, wh: wh, pool: pm, logger: logger.Named("stats_handler")}
}

// timelinePointResponse is the JSON representation of a warehouse.TimelinePoint.
type timelinePointResponse struct {
	Bucket      string  `json:"bucket"`
	Datname     string  `json:"datname"`
	Numbackends float64 `json:"numbackends"`
	XactCommit  int64   `json:"xact_commit"`
	DBSize      *int64  `json:"db_size"`
	DiskFree    *int64  `json:"disk_free"`
	DiskTotal   *int64  `json:"disk_total"`
}

func pointsToResponse(points []warehouse.TimelinePoint) []timelinePointResponse {
	items := make([]timelinePointResponse, len(points))
	for i, p := range points {
		items[i] = timelinePointResponse{
			Bucket:      p.Bucket.UTC().Format(time.RFC3339),
			Datname:     p.Datname,
			Numbackends: p.Numbackends,
			XactCommit:  p.XactCommit,
			DBSize:      p.DBSize,
			DiskFree:    p.DiskFree,
			DiskTotal:   p.DiskTotal,
		}
	}
	return items
}

// timeRange parses the `from`/`to` query parameters (RFC 3339), defaulting
// to the last defaultTimelineLookback if either is omitted or malformed.
func timeRange(r *http.Request) (from, to time.Time) {
	to = time.Now().UTC()
	from = to.Add(-defaultTimelineLookback)

	if v := r.URL.Query().Get("to"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			to = parsed.UTC()
		}
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			from = parsed.UTC()
		}
	}
	return from, to
}

// ServerTimeline handles GET /api/v1/server/{name}/stats.
// Returns every database's adaptively-bucketed timeline for the target.
func (h *StatsHandler) ServerTimeline(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")
	if _, err := h.reg.GetTarget(r.Context(), name); err != nil {
		writeRegistryError(w, h.logger, "get target for timeline", err)
		return
	}

	from, to := timeRange(r)
	points, err := h.wh.ServerTimeline(r.Context(), name, from, to)
	if err != nil {
		h.logger.Error("server timeline query failed", zap.String("target", name), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, pointsToResponse(points))
}

// DatabaseTimeline handles GET /api/v1/server/{name}/db/{db}/stats.
// Returns one database's adaptively-bucketed timeline for the target.
func (h *StatsHandler) DatabaseTimeline(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")
	datname := chiURLParam(r, "db")
	if _, err := h.reg.GetTarget(r.Context(), name); err != nil {
		writeRegistryError(w, h.logger, "get target for timeline", err)
		return
	}

	from, to := timeRange(r)
	points, err := h.wh.DatabaseTimeline(r.Context(), name, datname, from, to)
	if err != nil {
		h.logger.Error("database timeline query failed", zap.String("target", name), zap.String("db", datname), zap.Error(err))
		ErrInternal(w)
		return
	}
	Ok(w, pointsToResponse(points))
}

// activityRowResponse is the JSON representation of a warehouse.ActivityRow.
type activityRowResponse struct {
	Pid             int32   `json:"pid"`
	Datname         string  `json:"datname"`
	Usename         string  `json:"usename"`
	ApplicationName string  `json:"application_name"`
	State           string  `json:"state"`
	QueryStart      *string `json:"query_start"`
	Query           string  `json:"query"`
}

// CurrentActivity handles GET /api/v1/server/{name}/db/{db} and
// GET /api/v1/server_stats/{name} (server-wide variant uses the target's
// maintenance database). Bypasses the Warehouse entirely and fans out live
// to the target's own pg_stat_activity (spec.md §4.8).
func (h *StatsHandler) CurrentActivity(w http.ResponseWriter, r *http.Request) {
	name := chiURLParam(r, "name")
	datname := chiURLParam(r, "db")
	if datname == "" {
		datname = "postgres"
	}

	t, err := h.reg.GetTarget(r.Context(), name)
	if err != nil {
		writeRegistryError(w, h.logger, "get target for current activity", err)
		return
	}

	conn, err := h.pool.Acquire(r.Context(), collector.PoolKey(*t, datname), collector.TargetDSN(*t, datname), pool.DefaultTargetConfig)
	if err != nil {
		h.logger.Warn("target unreachable for current activity", zap.String("target", name), zap.Error(err))
		ErrUnprocessable(w, "target is currently unreachable")
		return
	}
	defer conn.Release()

	rows, err := warehouse.CurrentActivity(r.Context(), conn)
	if err != nil {
		h.logger.Error("current activity query failed", zap.String("target", name), zap.Error(err))
		ErrInternal(w)
		return
	}

	items := make([]activityRowResponse, len(rows))
	for i, a := range rows {
		item := activityRowResponse{
			Pid:             a.Pid,
			Datname:         a.Datname,
			Usename:         a.Usename,
			ApplicationName: a.ApplicationName,
			State:           a.State,
			Query:           a.Query,
		}
		if a.QueryStart != nil {
			s := a.QueryStart.UTC().Format(time.RFC3339)
			item.QueryStart = &s
		}
		items[i] = item
	}
	Ok(w, items)
}
