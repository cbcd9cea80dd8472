package api

import "github.com/tidewatch/tidewatch/internal/model"

// errorResponse is the JSON body for all non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status         string `json:"status"`
	StationCount   int    `json:"station_count"`
	ActiveStations int    `json:"active_stations"`
	LiveSnapshots  int    `json:"live_snapshots"`
	OpenAlerts     int    `json:"open_alerts"`
	Subscribers    int    `json:"subscribers"`
}

// StationResponse is one entry of GET /api/v1/stations.
type StationResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Channels  []string `json:"channels"`
	Status    string   `json:"status"`
	LastSeen  string   `json:"last_seen,omitempty"`
}

// LatestResponse is the body of GET /api/v1/stations/{id}/latest.
type LatestResponse struct {
	Reading   *model.Reading `json:"reading"`
	Seq       uint64         `json:"seq"`
	UpdatedAt string         `json:"updated_at"`
}

// ReadingsResponse is the body of GET /api/v1/stations/{id}/readings.
type ReadingsResponse struct {
	StationID string           `json:"station_id"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Readings  []*model.Reading `json:"readings"`
}
