// Package notify delivers alerts for findings that need attention.
package notify

import (
	"context"

	"github.com/m-pilli/aws-security-auditor/internal/models"
	"github.com/m-pilli/aws-security-auditor/pkg/logger"
)

// Notifier delivers an alert for the findings of a completed scan.
// Implementations decide which findings warrant an alert; Notify with
// nothing alert-worthy is a no-op.
type Notifier interface {
	Notify(ctx context.Context, findings []models.Finding) error
}

// LogNotifier writes findings to the log, warning on critical and high
// severities.
type LogNotifier struct {
	log logger.Logger
}

// NewLogNotifier creates a notifier that only logs.
func NewLogNotifier(log logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

// Notify logs each finding at a level matching its severity.
func (n *LogNotifier) Notify(_ context.Context, findings []models.Finding) error {
	for _, f := range findings {
		args := []any{
			"service", f.Service,
			"type", f.Type,
			"resource", f.ResourceID,
			"risk_score", f.RiskScore,
			"severity", f.Severity,
		}
		switch f.Severity {
		case models.SeverityCritical, models.SeverityHigh:
			n.log.Warn(f.Description, args...)
		default:
			n.log.Info(f.Description, args...)
		}
	}
	return nil
}

// MultiNotifier fans a notification out to several notifiers. Each notifier
// gets the full finding set even if an earlier one fails.
type MultiNotifier struct {
	notifiers []Notifier
	log       logger.Logger
}

// NewMultiNotifier creates a notifier that delivers to all of the given
// notifiers.
func NewMultiNotifier(log logger.Logger, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, log: log}
}

// Notify delivers to every notifier, logging failures. It never returns an
// error; a lost alert must not fail a scan.
func (n *MultiNotifier) Notify(ctx context.Context, findings []models.Finding) error {
	for _, notifier := range n.notifiers {
		if err := notifier.Notify(ctx, findings); err != nil {
			n.log.Error("notifier failed", "error", err)
		}
	}
	return nil
}
