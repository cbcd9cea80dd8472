package model

import "time"

// Canonical channel names reported by buoy stations. A station may support any
// subset; readings carry only the channels present in the upstream row.
const (
	ChannelWaveHeight  = "wave_height"          // meters
	ChannelWavePeriod  = "wave_period"          // seconds
	ChannelWindSpeed   = "wind_speed"           // m/s
	ChannelWindGust    = "wind_gust"            // m/s
	ChannelAirTemp     = "air_temperature"      // °C
	ChannelWaterTemp   = "water_temperature"    // °C
	ChannelPressure    = "atmospheric_pressure" // hPa
)

var knownChannels = map[string]struct{}{
	ChannelWaveHeight: {}, ChannelWavePeriod: {},
	ChannelWindSpeed: {}, ChannelWindGust: {},
	ChannelAirTemp: {}, ChannelWaterTemp: {}, ChannelPressure: {},
}

// KnownChannel reports whether name is one of the canonical channels.
func KnownChannel(name string) bool {
	_, ok := knownChannels[name]
	return ok
}

// ValidationStatus classifies an accepted reading.
type ValidationStatus string

const (
	// StatusValid marks a reading that passed all validation checks.
	StatusValid ValidationStatus = "valid"

	// StatusSuspect marks a reading with an implausible single-step jump.
	// Suspect readings are committed and delivered but excluded from trend
	// windows and alert evaluation.
	StatusSuspect ValidationStatus = "suspect"
)

// Direction is the three-state trend classification for one channel.
type Direction string

const (
	DirectionIncreasing Direction = "increasing"
	DirectionDecreasing Direction = "decreasing"
	DirectionStable     Direction = "stable"
)

// Trend holds the derived trend fields for a single channel, computed over a
// bounded trailing window of accepted valid readings.
type Trend struct {
	Avg       float64   `json:"avg"`
	Direction Direction `json:"direction"`
}

// Reading is one validated observation set for a station. Readings are
// immutable once written; later readings for the same station never overwrite
// earlier ones.
type Reading struct {
	StationID  string             `json:"station_id"`
	Timestamp  time.Time          `json:"timestamp"`   // source-reported, monotonic per station
	IngestedAt time.Time          `json:"ingested_at"` // when the pipeline accepted it
	Channels   map[string]float64 `json:"channels"`
	Status     ValidationStatus   `json:"status"`
	Trends     map[string]Trend   `json:"trends,omitempty"`
}

// Value returns the channel's value and whether it was present in the reading.
func (r *Reading) Value(channel string) (float64, bool) {
	v, ok := r.Channels[channel]
	return v, ok
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertOpen   AlertState = "open"
	AlertClosed AlertState = "closed"
)

// Alert is one open-to-close alert lifecycle for a (rule, station) pair.
// While the raise condition keeps matching, the same Alert is re-affirmed
// (and possibly escalated) rather than re-created.
type Alert struct {
	ID        string     `json:"id"`
	Rule      string     `json:"rule"`
	StationID string     `json:"station_id"`
	Channel   string     `json:"channel,omitempty"`
	Severity  string     `json:"severity"`
	Value     float64    `json:"value"`
	Message   string     `json:"message"`
	OpenedAt  time.Time  `json:"opened_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	State     AlertState `json:"state"`
}

// Key returns the (rule, station) identity used to enforce the single open
// alert invariant.
func (a *Alert) Key() string { return a.Rule + ":" + a.StationID }

// UpdateType discriminates the update envelope payload.
type UpdateType string

const (
	UpdateReading     UpdateType = "reading"
	UpdateAlertOpened UpdateType = "alert_opened"
	UpdateAlertClosed UpdateType = "alert_closed"
)

// Update is the envelope fanned out to live subscribers. Seq is the
// per-station commit sequence assigned by the writer; subscribers observe
// updates for a station in strictly increasing Seq order.
type Update struct {
	Type      UpdateType `json:"type"`
	StationID string     `json:"station_id"`
	Seq       uint64     `json:"seq"`
	Reading   *Reading   `json:"reading,omitempty"`
	Alert     *Alert     `json:"alert,omitempty"`
}
