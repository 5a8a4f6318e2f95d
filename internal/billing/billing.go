// Package billing watches workspace spend as usage records flow to the sink
// and raises threshold alerts. It never blocks or fails the request path:
// alerting is an observer on the usage stream.
package billing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/usage"
)

type AlertLevel string

const (
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
	AlertLevelExceeded AlertLevel = "exceeded"
)

type Alert struct {
	WorkspaceID string     `json:"workspace_id"`
	Level       AlertLevel `json:"level"`
	Limit       float64    `json:"limit"`
	Spent       float64    `json:"spent"`
	Percentage  float64    `json:"percentage"`
	Timestamp   time.Time  `json:"timestamp"`
}

type Thresholds struct {
	Warning  float64
	Critical float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		Warning:  0.8,
		Critical: 0.95,
	}
}

// Monitor accumulates billed amounts per workspace and alerts when a
// workspace crosses its spend limit thresholds. Workspaces without a
// configured limit are never alerted on.
type Monitor struct {
	mu         sync.Mutex
	limits     map[string]float64
	spend      map[string]float64
	thresholds Thresholds
	dedup      Deduplicator
	notifier   Notifier
}

func NewMonitor(limits map[string]float64, thresholds Thresholds, dedup Deduplicator, notifier Notifier) *Monitor {
	return &Monitor{
		limits:     limits,
		spend:      make(map[string]float64),
		thresholds: thresholds,
		dedup:      dedup,
		notifier:   notifier,
	}
}

// WrapSink layers spend monitoring over the configured usage sink. The
// wrapped sink's error is the inner sink's error; monitoring itself never
// produces one.
func (m *Monitor) WrapSink(next usage.Sink) usage.Sink {
	return func(ctx context.Context, record domain.UsageRecord) error {
		m.observe(ctx, record)
		return next(ctx, record)
	}
}

// Spent reports the accumulated billed amount of one workspace.
func (m *Monitor) Spent(workspaceID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.spend[workspaceID]
}

func (m *Monitor) observe(ctx context.Context, record domain.UsageRecord) {
	if record.WorkspaceID == "" {
		return
	}

	m.mu.Lock()
	m.spend[record.WorkspaceID] += record.BilledAmount
	spent := m.spend[record.WorkspaceID]
	limit, hasLimit := m.limits[record.WorkspaceID]
	m.mu.Unlock()

	if !hasLimit || limit <= 0 {
		return
	}

	percentage := spent / limit

	var level AlertLevel
	switch {
	case percentage >= 1.0:
		level = AlertLevelExceeded
	case percentage >= m.thresholds.Critical:
		level = AlertLevelCritical
	case percentage >= m.thresholds.Warning:
		level = AlertLevelWarning
	default:
		m.dedup.ClearAlert(ctx, record.WorkspaceID)
		return
	}

	if !m.dedup.ShouldAlert(ctx, record.WorkspaceID, level) {
		return
	}

	alert := Alert{
		WorkspaceID: record.WorkspaceID,
		Level:       level,
		Limit:       limit,
		Spent:       spent,
		Percentage:  percentage * 100,
		Timestamp:   time.Now().UTC(),
	}

	if err := m.notifier.Send(ctx, alert); err != nil {
		slog.Warn("spend alert delivery failed",
			"workspace_id", alert.WorkspaceID,
			"level", alert.Level,
			"error", err,
		)
		return
	}

	slog.Warn("spend threshold crossed",
		"workspace_id", alert.WorkspaceID,
		"level", alert.Level,
		"limit", alert.Limit,
		"spent", alert.Spent,
		"percentage", alert.Percentage,
	)
}
