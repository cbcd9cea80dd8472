package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidewatch/tidewatch/internal/config"
)

// RawPayload is one unvalidated observation row pulled from the upstream feed.
type RawPayload struct {
	StationID string
	Timestamp time.Time          // source-reported observation time (UTC)
	Channels  map[string]float64 // sparse; missing channels omitted
	FetchedAt time.Time
}

// Source is the upstream pull interface, invoked once per station per interval.
type Source interface {
	// Fetch returns the newest observation for the station. since is the last
	// accepted source timestamp; implementations prefer a row strictly newer
	// than it and return ErrNoNewData when the feed has not advanced.
	Fetch(ctx context.Context, stationID string, since time.Time) (*RawPayload, error)
}

// ErrNoNewData reports that the feed has no row newer than since. Retryable:
// upstream feeds routinely publish late within the interval.
var ErrNoNewData = errors.New("upstream: no new data")

// RateLimitError is an explicit upstream rate-limit response. Retryable with
// mandatory backoff; RetryAfter carries the server hint when one was provided.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("upstream: rate limited, retry after %s", e.RetryAfter)
	}
	return "upstream: rate limited"
}

// MalformedError marks a payload that cannot be parsed. Non-retryable: the
// pipeline records it as a rejected ingestion and moves on.
type MalformedError struct {
	StationID string
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("upstream: malformed payload for %s: %s", e.StationID, e.Reason)
}

// IsMalformed reports whether err is a non-retryable parse failure.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// New returns the Source for the configured feed type.
func New(cfg config.UpstreamConfig) (Source, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	switch cfg.Type {
	case "ndbc":
		return &ndbcSource{baseURL: cfg.BaseURL, client: client}, nil
	case "promgw":
		return &promSource{baseURL: cfg.BaseURL, client: client}, nil
	default:
		return nil, fmt.Errorf("upstream: unsupported type %q", cfg.Type)
	}
}

// get issues the request and classifies non-200 statuses into the error
// taxonomy shared by both source implementations. The caller owns the body.
func get(ctx context.Context, client *http.Client, url, stationID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream: http get: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, &RateLimitError{RetryAfter: retryAfter(resp)}

	case resp.StatusCode >= 500:
		resp.Body.Close()
		return nil, fmt.Errorf("upstream: server error %d", resp.StatusCode)

	default:
		// 4xx other than 429: the request itself is wrong (unknown station,
		// moved feed). Retrying the same request cannot help.
		resp.Body.Close()
		return nil, &MalformedError{
			StationID: stationID,
			Reason:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
}

// retryAfter parses the Retry-After response header (seconds form only).
func retryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
