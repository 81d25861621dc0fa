package metrics

import "log/slog"

// Alerter receives operator-grade notifications. The breaker raises
// one on every trip and on emergency action failures.
type Alerter interface {
	Alert(severity, title, detail string)
}

// Severities for Alerter notifications.
const (
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

// SlogAlerter writes alerts to the structured log. It is the default
// sink; deployments wire webhooks or pagers behind the same interface.
type SlogAlerter struct{}

func (SlogAlerter) Alert(severity, title, detail string) {
	if severity == SeverityCritical {
		slog.Error("ALERT: "+title, slog.String("severity", severity), slog.String("detail", detail))
		return
	}
	slog.Warn("ALERT: "+title, slog.String("severity", severity), slog.String("detail", detail))
}

// NopAlerter discards alerts. Test helper.
type NopAlerter struct{}

func (NopAlerter) Alert(string, string, string) {}
