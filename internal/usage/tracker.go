// Package usage delivers usage records to the hosting application and
// aggregates workspace billing. The gateway calls Emit exactly once per
// logical operation; delivery is best-effort relative to the user-visible
// answer, so sink failures are logged and swallowed, never propagated.
package usage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/agentboard/provider-gateway/internal/domain"
	"github.com/agentboard/provider-gateway/internal/metrics"
)

// Sink receives one record per completed operation. Implementations must
// tolerate concurrent invocation; records are independent facts and need no
// coordination. The core does not retry; a sink that needs durability is
// responsible for it.
type Sink func(ctx context.Context, record domain.UsageRecord) error

const defaultSinkTimeout = 5 * time.Second

type Tracker struct {
	sink    Sink
	timeout time.Duration
}

func NewTracker(sink Sink, timeout time.Duration) *Tracker {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Tracker{sink: sink, timeout: timeout}
}

// Emit hands one record to the sink. The call is bounded by the tracker's
// timeout and detached from the request's cancellation: a disconnected
// caller still produced billable work. Failures never surface to the
// request path.
func (t *Tracker) Emit(ctx context.Context, record domain.UsageRecord) {
	if t == nil || t.sink == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("usage sink panicked", "panic", r, "record_id", record.ID)
			metrics.RecordSinkFailure(string(record.Operation))
		}
	}()

	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	if err := t.sink(sinkCtx, record); err != nil {
		slog.Warn("usage emission failed",
			"error", err,
			"record_id", record.ID,
			"provider", record.Provider,
			"workspace_id", record.WorkspaceID,
		)
		metrics.RecordSinkFailure(string(record.Operation))
		return
	}

	metrics.RecordUsageEmitted(record.Provider, record.Model, string(record.Operation))
}

// WorkspaceBilling is the aggregate of one workspace's records.
type WorkspaceBilling struct {
	BilledAmount float64
	ProviderCost float64
	Requests     int
}

// CalculateWorkspaceBilling sums billed amount and provider cost grouped by
// workspace over the given record set. Records with no workspace are
// grouped under the empty key.
func CalculateWorkspaceBilling(records []domain.UsageRecord) map[string]WorkspaceBilling {
	out := make(map[string]WorkspaceBilling)
	for _, r := range records {
		b := out[r.WorkspaceID]
		b.BilledAmount += r.BilledAmount
		b.ProviderCost += r.ProviderCost
		b.Requests++
		out[r.WorkspaceID] = b
	}
	return out
}

// MemorySink retains records in memory. Used by tests and single-process
// deployments that poll billing state instead of persisting it.
type MemorySink struct {
	mu      sync.Mutex
	records []domain.UsageRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{records: make([]domain.UsageRecord, 0)}
}

func (s *MemorySink) Record(ctx context.Context, record domain.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

func (s *MemorySink) All() []domain.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UsageRecord, len(s.records))
	copy(out, s.records)
	return out
}

// LogSink writes each record to the structured log. The default when no
// other sink is configured.
func LogSink(ctx context.Context, record domain.UsageRecord) error {
	slog.Info("usage recorded",
		"record_id", record.ID,
		"provider", record.Provider,
		"model", record.Model,
		"operation", record.Operation,
		"input_units", record.InputUnits,
		"output_units", record.OutputUnits,
		"provider_cost", record.ProviderCost,
		"billed_amount", record.BilledAmount,
		"workspace_id", record.WorkspaceID,
	)
	return nil
}
