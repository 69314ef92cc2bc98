package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TierRecord is a row of the tier catalog.
type TierRecord struct {
	TierID             uuid.UUID `db:"tier_id"`
	Slug               string    `db:"slug"`
	Name               string    `db:"name"`
	DomainCount        int       `db:"domain_count"`
	MailboxesPerDomain int       `db:"mailboxes_per_domain"`
	SetupFeeCents      int64     `db:"setup_fee_cents"`
	MonthlyFeeCents    int64     `db:"monthly_fee_cents"`
	SortOrder          int       `db:"sort_order"`
	CreatedAt          time.Time `db:"created_at"`
}

// TierStore holds the tier catalog. Tiers are reference data managed by the CLI.
type TierStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewTierStore creates a store; assumes BootstrapSchema already ran.
func NewTierStore(pool *pgxpool.Pool, schema string) (*TierStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := normalizeSchemaName(schema)
	if err != nil {
		return nil, err
	}
	return &TierStore{pool: pool, table: qualified(name, tiersTable)}, nil
}

const tierColumns = `tier_id, slug, name, domain_count, mailboxes_per_domain,
        setup_fee_cents, monthly_fee_cents, sort_order, created_at`

// List returns every tier ordered for display.
func (s *TierStore) List(ctx context.Context) ([]TierRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY sort_order, slug`, tierColumns, s.table)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TierRecord
	for rows.Next() {
		rec, err := scanTierRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Get fetches a tier by id.
func (s *TierStore) Get(ctx context.Context, id uuid.UUID) (TierRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE tier_id = $1`, tierColumns, s.table)
	return scanTierRecord(s.pool.QueryRow(ctx, query, id))
}

// GetBySlug fetches a tier by slug, ignoring case and surrounding space.
func (s *TierStore) GetBySlug(ctx context.Context, slug string) (TierRecord, error) {
	slug, err := tierSlug(slug)
	if err != nil {
		return TierRecord{}, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE slug = $1`, tierColumns, s.table)
	return scanTierRecord(s.pool.QueryRow(ctx, query, slug))
}

// Upsert inserts a tier or updates the one with the same slug. The tier id
// and created_at of an existing row are kept, so provisions stay linked.
func (s *TierStore) Upsert(ctx context.Context, rec TierRecord) (TierRecord, error) {
	slug, err := tierSlug(rec.Slug)
	if err != nil {
		return TierRecord{}, err
	}
	if rec.DomainCount <= 0 || rec.MailboxesPerDomain <= 0 {
		return TierRecord{}, fmt.Errorf("%w: domain and mailbox counts must be positive", ErrInvalidTier)
	}
	if rec.TierID == uuid.Nil {
		rec.TierID = uuid.New()
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (tier_id, slug, name, domain_count, mailboxes_per_domain,
            setup_fee_cents, monthly_fee_cents, sort_order)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        ON CONFLICT (slug) DO UPDATE SET
            name = EXCLUDED.name,
            domain_count = EXCLUDED.domain_count,
            mailboxes_per_domain = EXCLUDED.mailboxes_per_domain,
            setup_fee_cents = EXCLUDED.setup_fee_cents,
            monthly_fee_cents = EXCLUDED.monthly_fee_cents,
            sort_order = EXCLUDED.sort_order
        RETURNING %s`, s.table, tierColumns)
	return scanTierRecord(s.pool.QueryRow(ctx, query, rec.TierID, slug, rec.Name, rec.DomainCount,
		rec.MailboxesPerDomain, rec.SetupFeeCents, rec.MonthlyFeeCents, rec.SortOrder))
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// tierSlug lowercases and trims slug; it must be lowercase words joined by single dashes.
func tierSlug(slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !slugPattern.MatchString(slug) {
		return "", fmt.Errorf("%w: slug %q", ErrInvalidTier, slug)
	}
	return slug, nil
}

func scanTierRecord(row pgx.Row) (TierRecord, error) {
	var rec TierRecord
	if err := row.Scan(&rec.TierID, &rec.Slug, &rec.Name, &rec.DomainCount, &rec.MailboxesPerDomain,
		&rec.SetupFeeCents, &rec.MonthlyFeeCents, &rec.SortOrder, &rec.CreatedAt); err != nil {
		return TierRecord{}, mapRowError(err)
	}
	return rec, nil
}
