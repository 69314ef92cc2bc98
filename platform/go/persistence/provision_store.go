package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ProvisionRecord is a row of the provisions table.
type ProvisionRecord struct {
	ProvisionID         uuid.UUID  `db:"provision_id"`
	OwnerID             string     `db:"owner_id"`
	ProductType         string     `db:"product_type"`
	TierID              *uuid.UUID `db:"tier_id"`
	Status              string     `db:"status"`
	ServiceProvider     string     `db:"service_provider"`
	MailboxPattern1     string     `db:"mailbox_pattern_1"`
	MailboxPattern2     string     `db:"mailbox_pattern_2"`
	PlusvibeClientEmail *string    `db:"plusvibe_client_email"`
	HeyreachListID      *string    `db:"heyreach_list_id"`
	ProvisioningLog     *string    `db:"provisioning_log"`
	SubmissionKey       *string    `db:"submission_key"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// ProvisionStore provides access to the provisions table.
type ProvisionStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewProvisionStore creates a store; assumes BootstrapSchema already ran.
func NewProvisionStore(pool *pgxpool.Pool, schema string) (*ProvisionStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := normalizeSchemaName(schema)
	if err != nil {
		return nil, err
	}
	return &ProvisionStore{pool: pool, table: qualified(name, provisionsTable)}, nil
}

const provisionColumns = `provision_id, owner_id, product_type, tier_id, status, service_provider,
        mailbox_pattern_1, mailbox_pattern_2, plusvibe_client_email, heyreach_list_id,
        provisioning_log, submission_key, created_at, updated_at`

// Create inserts a new provision. A duplicate submission key yields ErrConflict.
func (s *ProvisionStore) Create(ctx context.Context, rec ProvisionRecord) (ProvisionRecord, error) {
	if rec.ProvisionID == uuid.Nil {
		return ProvisionRecord{}, errors.New("provision id is required")
	}
	if rec.OwnerID == "" {
		return ProvisionRecord{}, errors.New("owner id is required")
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (
            provision_id, owner_id, product_type, tier_id, status, service_provider,
            mailbox_pattern_1, mailbox_pattern_2, submission_key, created_at, updated_at
        ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
        RETURNING %s
    `, s.table, provisionColumns)

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	row := s.pool.QueryRow(ctx, query,
		rec.ProvisionID, rec.OwnerID, rec.ProductType, rec.TierID, rec.Status, rec.ServiceProvider,
		rec.MailboxPattern1, rec.MailboxPattern2, rec.SubmissionKey, createdAt,
	)
	return scanProvisionRecord(row)
}

// Get fetches a provision by id.
func (s *ProvisionStore) Get(ctx context.Context, id uuid.UUID) (ProvisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE provision_id = $1`, provisionColumns, s.table)
	return scanProvisionRecord(s.pool.QueryRow(ctx, query, id))
}

// FindBySubmissionKey returns the provision created by an earlier submission with the same key.
func (s *ProvisionStore) FindBySubmissionKey(ctx context.Context, ownerID, productType, key string) (ProvisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
        WHERE owner_id = $1 AND product_type = $2 AND submission_key = $3`, provisionColumns, s.table)
	return scanProvisionRecord(s.pool.QueryRow(ctx, query, ownerID, productType, key))
}

// ListByOwner returns the owner's provisions, oldest first.
func (s *ProvisionStore) ListByOwner(ctx context.Context, ownerID string) ([]ProvisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = $1 ORDER BY created_at, provision_id`, provisionColumns, s.table)
	return s.list(ctx, query, ownerID)
}

// ListByStatus returns every provision currently in the given status.
func (s *ProvisionStore) ListByStatus(ctx context.Context, status string) ([]ProvisionRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = $1 ORDER BY updated_at, provision_id`, provisionColumns, s.table)
	return s.list(ctx, query, status)
}

func (s *ProvisionStore) list(ctx context.Context, query string, args ...any) ([]ProvisionRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProvisionRecord
	for rows.Next() {
		rec, err := scanProvisionRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// TransitionStatus moves a provision from one status to another. The update
// only applies while the stored status still equals from; otherwise
// ErrStaleStatus (or ErrNotFound) is returned. A non-nil detail overwrites
// provisioning_log.
func (s *ProvisionStore) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string, detail *string) (ProvisionRecord, error) {
	query := fmt.Sprintf(`
        UPDATE %s
        SET status = $3, provisioning_log = COALESCE($4, provisioning_log), updated_at = NOW()
        WHERE provision_id = $1 AND status = $2
        RETURNING %s
    `, s.table, provisionColumns)

	rec, err := scanProvisionRecord(s.pool.QueryRow(ctx, query, id, from, to, detail))
	if errors.Is(err, ErrNotFound) {
		return ProvisionRecord{}, s.missOrStale(ctx, id)
	}
	return rec, err
}

// SetVendorRefs records identifiers handed back by outreach vendors. Nil values keep the stored value.
func (s *ProvisionStore) SetVendorRefs(ctx context.Context, id uuid.UUID, plusvibeClientEmail, heyreachListID *string) error {
	query := fmt.Sprintf(`
        UPDATE %s
        SET plusvibe_client_email = COALESCE($2, plusvibe_client_email),
            heyreach_list_id = COALESCE($3, heyreach_list_id),
            updated_at = NOW()
        WHERE provision_id = $1
    `, s.table)

	tag, err := s.pool.Exec(ctx, query, id, plusvibeClientEmail, heyreachListID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a provision (and cascades its domains, mailboxes and logs)
// while it is still in the expected status.
func (s *ProvisionStore) Delete(ctx context.Context, id uuid.UUID, status string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE provision_id = $1 AND status = $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.missOrStale(ctx, id)
	}
	return nil
}

func (s *ProvisionStore) missOrStale(ctx context.Context, id uuid.UUID) error {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE provision_id = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStatus
}

func scanProvisionRecord(row pgx.Row) (ProvisionRecord, error) {
	var rec ProvisionRecord
	if err := row.Scan(&rec.ProvisionID, &rec.OwnerID, &rec.ProductType, &rec.TierID, &rec.Status,
		&rec.ServiceProvider, &rec.MailboxPattern1, &rec.MailboxPattern2, &rec.PlusvibeClientEmail,
		&rec.HeyreachListID, &rec.ProvisioningLog, &rec.SubmissionKey, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return ProvisionRecord{}, mapRowError(err)
	}
	return rec, nil
}
