package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidewatch/tidewatch/internal/config"
	"github.com/tidewatch/tidewatch/internal/model"
)

// WebhookSink posts alert transitions to the configured webhook targets.
// Delivery errors are logged, never surfaced to the engine.
type WebhookSink struct {
	targets []config.WebhookConfig
	client  *http.Client
}

// NewWebhookSink creates a sink for the configured targets. A sink with no
// targets is valid — delivery becomes a no-op.
func NewWebhookSink(targets []config.WebhookConfig) *WebhookSink {
	return &WebhookSink{
		targets: targets,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// OnAlertOpened implements Sink.
func (s *WebhookSink) OnAlertOpened(a *model.Alert) { s.deliver(a) }

// OnAlertClosed implements Sink.
func (s *WebhookSink) OnAlertClosed(a *model.Alert) { s.deliver(a) }

func (s *WebhookSink) deliver(a *model.Alert) {
	for _, wh := range s.targets {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = s.sendSlack(url, a)
		case "http":
			err = s.sendHTTP(url, a)
		default:
			slog.Warn("alerts: unknown webhook type — skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type,
				"rule", a.Rule,
				"err", err,
			)
		} else {
			slog.Debug("alerts: webhook delivered",
				"type", wh.Type,
				"rule", a.Rule,
				"state", a.State,
			)
		}
	}
}

func (s *WebhookSink) sendSlack(url string, a *model.Alert) error {
	text := fmt.Sprintf("*[%s]* %s (%s)", a.Severity, a.Message, a.State)
	if a.State == model.AlertClosed {
		text = fmt.Sprintf("*[%s]* %s cleared on %s", a.Severity, a.Rule, a.StationID)
	}
	body, _ := json.Marshal(map[string]string{"text": text})
	return s.post(url, body)
}

func (s *WebhookSink) sendHTTP(url string, a *model.Alert) error {
	body, _ := json.Marshal(map[string]interface{}{"alert": a})
	return s.post(url, body)
}

func (s *WebhookSink) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
