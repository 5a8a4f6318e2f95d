package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentboard/provider-gateway/internal/domain"
)

// PostgresSink writes usage records to a usage_records table. It is a
// reference sink for hosting applications that keep billing in Postgres;
// the table schema belongs to the host, not the gateway.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(databaseURL string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresSink{db: db}, nil
}

func NewPostgresSinkWithDB(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

func (s *PostgresSink) Record(ctx context.Context, record domain.UsageRecord) error {
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO usage_records (id, provider, model, operation, input_units, output_units, provider_cost, billed_amount, workspace_id, project_id, agent_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.Provider,
		record.Model,
		record.Operation,
		record.InputUnits,
		record.OutputUnits,
		record.ProviderCost,
		record.BilledAmount,
		record.WorkspaceID,
		record.ProjectID,
		record.AgentID,
		metadata,
		record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}

	return nil
}

// WorkspaceRecords returns a workspace's records since a point in time,
// newest first.
func (s *PostgresSink) WorkspaceRecords(ctx context.Context, workspaceID string, since time.Time) ([]domain.UsageRecord, error) {
	query := `
		SELECT id, provider, model, operation, input_units, output_units, provider_cost, billed_amount, workspace_id, created_at
		FROM usage_records
		WHERE workspace_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, workspaceID, since)
	if err != nil {
		return nil, fmt.Errorf("query usage records: %w", err)
	}
	defer rows.Close()

	var records []domain.UsageRecord
	for rows.Next() {
		var r domain.UsageRecord
		err := rows.Scan(
			&r.ID,
			&r.Provider,
			&r.Model,
			&r.Operation,
			&r.InputUnits,
			&r.OutputUnits,
			&r.ProviderCost,
			&r.BilledAmount,
			&r.WorkspaceID,
			&r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// WorkspaceBilledTotal sums a workspace's billed amount since a point in time.
func (s *PostgresSink) WorkspaceBilledTotal(ctx context.Context, workspaceID string, since time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(billed_amount), 0)
		FROM usage_records
		WHERE workspace_id = $1 AND created_at >= $2
	`

	var total float64
	if err := s.db.QueryRowContext(ctx, query, workspaceID, since).Scan(&total); err != nil {
		return 0, fmt.Errorf("query billed total: %w", err)
	}

	return total, nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
