package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StepLogRecord is one append-only provisioning step entry.
type StepLogRecord struct {
	LogID       int64             `db:"log_id"`
	ProvisionID uuid.UUID         `db:"provision_id"`
	Step        int               `db:"step"`
	Status      string            `db:"status"`
	Error       *string           `db:"error"`
	Output      map[string]string `db:"output"`
	CreatedAt   time.Time         `db:"created_at"`
}

// StepLogStore appends and reads step log entries. Entries are never updated.
type StepLogStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewStepLogStore creates a store; assumes BootstrapSchema already ran.
func NewStepLogStore(pool *pgxpool.Pool, schema string) (*StepLogStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := normalizeSchemaName(schema)
	if err != nil {
		return nil, err
	}
	return &StepLogStore{pool: pool, table: qualified(name, stepLogsTable)}, nil
}

// Append inserts a new entry and returns it with its sequence id.
func (s *StepLogStore) Append(ctx context.Context, rec StepLogRecord) (StepLogRecord, error) {
	if rec.ProvisionID == uuid.Nil {
		return StepLogRecord{}, errors.New("provision id is required")
	}
	if rec.Step < 1 {
		return StepLogRecord{}, fmt.Errorf("invalid step %d", rec.Step)
	}

	output := rec.Output
	if output == nil {
		output = map[string]string{}
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return StepLogRecord{}, fmt.Errorf("encode step output: %w", err)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (provision_id, step, status, error, output)
        VALUES ($1,$2,$3,$4,$5::jsonb)
        RETURNING log_id, provision_id, step, status, error, output, created_at
    `, s.table)

	return scanStepLogRecord(s.pool.QueryRow(ctx, query, rec.ProvisionID, rec.Step, rec.Status, rec.Error, string(raw)))
}

// List returns every entry for the provision in append order.
func (s *StepLogStore) List(ctx context.Context, provisionID uuid.UUID) ([]StepLogRecord, error) {
	query := fmt.Sprintf(`
        SELECT log_id, provision_id, step, status, error, output, created_at
        FROM %s WHERE provision_id = $1 ORDER BY log_id
    `, s.table)

	rows, err := s.pool.Query(ctx, query, provisionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StepLogRecord
	for rows.Next() {
		rec, err := scanStepLogRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanStepLogRecord(row pgx.Row) (StepLogRecord, error) {
	var rec StepLogRecord
	var raw []byte
	if err := row.Scan(&rec.LogID, &rec.ProvisionID, &rec.Step, &rec.Status, &rec.Error, &raw, &rec.CreatedAt); err != nil {
		return StepLogRecord{}, mapRowError(err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &rec.Output); err != nil {
			return StepLogRecord{}, fmt.Errorf("decode step output: %w", err)
		}
	}
	return rec, nil
}
