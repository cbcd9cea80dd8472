package upstream

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidewatch/tidewatch/internal/model"
)

// ndbcColumns maps NDBC realtime2 column headers to canonical channel names.
// Columns not listed here (MWD, DEWP, VIS, ...) are ignored.
var ndbcColumns = map[string]string{
	"WVHT": model.ChannelWaveHeight,
	"DPD":  model.ChannelWavePeriod,
	"WSPD": model.ChannelWindSpeed,
	"GST":  model.ChannelWindGust,
	"ATMP": model.ChannelAirTemp,
	"WTMP": model.ChannelWaterTemp,
	"PRES": model.ChannelPressure,
}

// ndbcMissing is the feed's missing-value marker.
const ndbcMissing = "MM"

// ndbcSource pulls the NDBC-style realtime text table. The feed publishes one
// file per station with the newest row first:
//
//	#YY  MM DD hh mm WDIR WSPD GST  WVHT ...
//	#yr  mo dy hr mn degT m/s  m/s  m    ...
//	2024 08 26 12 50 230  5.0  6.0  1.2  ...
type ndbcSource struct {
	baseURL string
	client  *http.Client
}

func (s *ndbcSource) Fetch(ctx context.Context, stationID string, since time.Time) (*RawPayload, error) {
	url := fmt.Sprintf("%s/%s.txt", s.baseURL, stationID)
	resp, err := get(ctx, s.client, url, stationID)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var header []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			// First comment line is the column header; second is units.
			if header == nil {
				header = strings.Fields(strings.TrimLeft(line, "# "))
			}
			continue
		}

		if header == nil {
			return nil, &MalformedError{StationID: stationID, Reason: "data row before column header"}
		}
		payload, err := parseNDBCRow(stationID, header, strings.Fields(line))
		if err != nil {
			return nil, err
		}
		if !payload.Timestamp.After(since) {
			return nil, ErrNoNewData
		}
		return payload, nil
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("upstream: read feed body: %w", err)
	}
	return nil, &MalformedError{StationID: stationID, Reason: "empty feed"}
}

// parseNDBCRow decodes one whitespace-separated data row. The first five
// columns are the UTC observation time; the rest are channel values with MM
// marking a missing sensor.
func parseNDBCRow(stationID string, header, fields []string) (*RawPayload, error) {
	if len(fields) < 5 || len(fields) > len(header) {
		return nil, &MalformedError{StationID: stationID, Reason: "row width does not match header"}
	}

	ts, err := parseNDBCTime(fields[:5])
	if err != nil {
		return nil, &MalformedError{StationID: stationID, Reason: err.Error()}
	}

	channels := make(map[string]float64)
	for i := 5; i < len(fields); i++ {
		name, tracked := ndbcColumns[header[i]]
		if !tracked || fields[i] == ndbcMissing {
			continue
		}
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, &MalformedError{
				StationID: stationID,
				Reason:    fmt.Sprintf("column %s: bad value %q", header[i], fields[i]),
			}
		}
		channels[name] = v
	}

	return &RawPayload{
		StationID: stationID,
		Timestamp: ts,
		Channels:  channels,
		FetchedAt: time.Now().UTC(),
	}, nil
}

func parseNDBCTime(f []string) (time.Time, error) {
	var parts [5]int
	for i, s := range f {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("bad time column %q", s)
		}
		parts[i] = n
	}
	return time.Date(parts[0], time.Month(parts[1]), parts[2], parts[3], parts[4], 0, 0, time.UTC), nil
}
