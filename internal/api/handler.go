package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tidewatch/tidewatch/internal/alerts"
	"github.com/tidewatch/tidewatch/internal/catalog"
	"github.com/tidewatch/tidewatch/internal/hub"
	"github.com/tidewatch/tidewatch/internal/model"
	"github.com/tidewatch/tidewatch/internal/store"
)

// defaultHistoryWindow bounds a readings query when no from/to is given.
const defaultHistoryWindow = 24 * time.Hour

// Handler is the HTTP handler for all /api/v1/* endpoints.
// It reads the catalog, the snapshot cache, the durable log and alert state
// and returns JSON responses.
type Handler struct {
	registry *catalog.Registry
	cache    *store.Cache
	log      store.ReadingLog
	writer   *store.Writer
	engine   *alerts.Engine
	hub      *hub.Hub
	mux      *http.ServeMux
}

// New creates a Handler over the pipeline's read surfaces and registers all routes.
func New(registry *catalog.Registry, cache *store.Cache, log store.ReadingLog, writer *store.Writer, engine *alerts.Engine, h *hub.Hub) http.Handler {
	hd := &Handler{
		registry: registry,
		cache:    cache,
		log:      log,
		writer:   writer,
		engine:   engine,
		hub:      h,
		mux:      http.NewServeMux(),
	}

	hd.mux.HandleFunc("/api/v1/health", hd.health)
	hd.mux.HandleFunc("/api/v1/stations", hd.listStations)
	hd.mux.HandleFunc("/api/v1/stations/", hd.station) // subtree — extracts {id}/latest etc.
	hd.mux.HandleFunc("/api/v1/alerts", hd.alerts)
	hd.mux.HandleFunc("/api/v1/rejections", hd.rejections)

	return hd
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — catalog, snapshot and alert counts.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap := h.registry.Current()
	open := 0
	for _, a := range h.engine.Active() {
		if a.State == model.AlertOpen {
			open++
		}
	}

	jsonResp(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		StationCount:   len(snap.All()),
		ActiveStations: len(snap.Active()),
		LiveSnapshots:  len(h.cache.List()),
		OpenAlerts:     open,
		Subscribers:    h.hub.Count(),
	})
}

// listStations returns GET /api/v1/stations — the catalog in config order,
// annotated with each station's last commit time when one is cached.
func (h *Handler) listStations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stations := h.registry.Current().All()
	out := make([]StationResponse, 0, len(stations))
	for _, st := range stations {
		resp := toStationResponse(st)
		if e, ok := h.cache.GetLatest(st.ID); ok {
			resp.LastSeen = e.UpdatedAt.UTC().Format(time.RFC3339)
		}
		out = append(out, resp)
	}
	jsonResp(w, http.StatusOK, out)
}

// station dispatches GET /api/v1/stations/{id}/latest and
// GET /api/v1/stations/{id}/readings.
func (h *Handler) station(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/stations/")
	if rest == "" {
		h.listStations(w, r)
		return
	}

	id, op, _ := strings.Cut(rest, "/")
	if h.registry.Current().Get(id) == nil {
		jsonErr(w, http.StatusNotFound, "station not found")
		return
	}

	switch op {
	case "latest":
		h.latest(w, id)
	case "readings":
		h.readings(w, r, id)
	default:
		jsonErr(w, http.StatusNotFound, "not found")
	}
}

// latest serves the station's cached snapshot. Entries past the TTL without a
// new commit are treated as not found.
func (h *Handler) latest(w http.ResponseWriter, id string) {
	e, ok := h.cache.GetLatest(id)
	if !ok || time.Since(e.UpdatedAt) > h.cache.TTL() {
		jsonErr(w, http.StatusNotFound, "no live reading")
		return
	}
	jsonResp(w, http.StatusOK, LatestResponse{
		Reading:   e.Reading,
		Seq:       e.Seq,
		UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// readings serves a timestamp range from the durable log. from/to default to
// the trailing 24 hours.
func (h *Handler) readings(w http.ResponseWriter, r *http.Request, id string) {
	now := time.Now().UTC()
	from, to := now.Add(-defaultHistoryWindow), now

	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = t
	}
	if to.Before(from) {
		jsonErr(w, http.StatusBadRequest, "to before from")
		return
	}

	readings, err := h.log.ReadRange(r.Context(), id, from, to)
	if err != nil {
		jsonErr(w, http.StatusInternalServerError, "history read failed")
		return
	}
	if readings == nil {
		readings = []*model.Reading{}
	}
	jsonResp(w, http.StatusOK, ReadingsResponse{
		StationID: id,
		From:      from.Format(time.RFC3339),
		To:        to.Format(time.RFC3339),
		Readings:  readings,
	})
}

// alerts returns GET /api/v1/alerts — open alerts plus those closed within
// the past hour.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := h.engine.Active()
	if out == nil {
		out = []model.Alert{}
	}
	jsonResp(w, http.StatusOK, out)
}

// rejections returns GET /api/v1/rejections — the recent rejected-ingestion
// audit trail, oldest first.
func (h *Handler) rejections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := h.writer.Rejections()
	if out == nil {
		out = []store.Rejection{}
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toStationResponse maps a catalog.Station to its JSON representation.
func toStationResponse(st *catalog.Station) StationResponse {
	return StationResponse{
		ID:        st.ID,
		Name:      st.Name,
		Latitude:  st.Latitude,
		Longitude: st.Longitude,
		Channels:  st.Channels,
		Status:    st.Status,
	}
}
