// Package alertsink delivers pool-manager alerts (spec.md §4.4's
// check_alert_conditions values) to Slack when configured. Alerts are
// plain values; this package is the one place delivery happens, kept
// separate from keypool so the manager never depends on a transport.
package alertsink

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/krich11/kme-sub000/pkg/keypool"
)

// Sink posts pool alerts to a Slack channel.
type Sink struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// New builds a Sink. If botToken is empty, the sink is a no-op —
// alerts are logged but never posted.
func New(botToken, channel string, logger *slog.Logger) *Sink {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Sink{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the sink has a usable Slack client.
func (s *Sink) IsEnabled() bool {
	return s.client != nil && s.channel != ""
}

// Post delivers one alert. It never returns an error to the caller —
// alert delivery is best-effort and must never fail a replenishment
// cycle or a request handler.
func (s *Sink) Post(ctx context.Context, alert keypool.Alert) {
	if !s.IsEnabled() {
		s.logger.Info("pool alert (slack disabled)", "kind", alert.Kind, "message", alert.Message, "health", alert.Health)
		return
	}

	text := fmt.Sprintf("%s %s: %s (pool health: %s)", emoji(alert.Kind), alert.Kind, alert.Message, alert.Health)
	_, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		s.logger.Error("posting pool alert to slack", "error", err, "kind", alert.Kind)
	}
}

func emoji(kind keypool.AlertKind) string {
	switch kind {
	case keypool.AlertLowKeys:
		return ":warning:"
	case keypool.AlertHighConsumptionRate:
		return ":chart_with_upwards_trend:"
	case keypool.AlertHealthTransition:
		return ":arrows_counterclockwise:"
	default:
		return ":bell:"
	}
}
