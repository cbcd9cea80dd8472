package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/tidewatch/tidewatch/internal/model"
)

// Metric families exposed by tidewatch-compatible sensor gateways.
const (
	// gwObservationTS is the gateway's source-reported observation time,
	// a gauge holding a Unix timestamp in seconds.
	gwObservationTS = "buoy_observation_timestamp_seconds"
)

// gwChannelMetrics maps gateway metric family names to canonical channels.
var gwChannelMetrics = map[string]string{
	"buoy_wave_height_meters":        model.ChannelWaveHeight,
	"buoy_wave_period_seconds":       model.ChannelWavePeriod,
	"buoy_wind_speed_mps":            model.ChannelWindSpeed,
	"buoy_wind_gust_mps":             model.ChannelWindGust,
	"buoy_air_temperature_celsius":   model.ChannelAirTemp,
	"buoy_water_temperature_celsius": model.ChannelWaterTemp,
	"buoy_pressure_hpa":              model.ChannelPressure,
}

// promSource pulls a sensor gateway's Prometheus exposition endpoint and maps
// channel gauges onto a RawPayload.
type promSource struct {
	baseURL string
	client  *http.Client
}

func (s *promSource) Fetch(ctx context.Context, stationID string, since time.Time) (*RawPayload, error) {
	url := fmt.Sprintf("%s/%s/metrics", s.baseURL, stationID)
	resp, err := get(ctx, s.client, url, stationID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mfs, err := parseMetrics(resp.Body)
	if err != nil {
		return nil, &MalformedError{StationID: stationID, Reason: err.Error()}
	}

	tsFamily, ok := mfs[gwObservationTS]
	if !ok {
		return nil, &MalformedError{StationID: stationID, Reason: "missing " + gwObservationTS}
	}
	ts := time.Unix(int64(gaugeValue(tsFamily)), 0).UTC()

	channels := make(map[string]float64)
	for family, name := range gwChannelMetrics {
		if mf, ok := mfs[family]; ok {
			channels[name] = gaugeValue(mf)
		}
	}

	payload := &RawPayload{
		StationID: stationID,
		Timestamp: ts,
		Channels:  channels,
		FetchedAt: time.Now().UTC(),
	}
	if !payload.Timestamp.After(since) {
		return nil, ErrNoNewData
	}
	return payload, nil
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}

// gaugeValue returns the first gauge, counter, or untyped value in mf.
// Returns 0 if mf carries no samples.
func gaugeValue(mf *dto.MetricFamily) float64 {
	for _, m := range mf.GetMetric() {
		switch {
		case m.Gauge != nil:
			return m.Gauge.GetValue()
		case m.Counter != nil:
			return m.Counter.GetValue()
		case m.Untyped != nil:
			return m.Untyped.GetValue()
		}
	}
	return 0
}
