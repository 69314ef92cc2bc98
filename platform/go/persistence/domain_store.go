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

// DomainRecord is a row of the domains table with its mailboxes attached.
type DomainRecord struct {
	DomainID         uuid.UUID `db:"domain_id"`
	ProvisionID      uuid.UUID `db:"provision_id"`
	DomainName       string    `db:"domain_name"`
	Status           string    `db:"status"`
	ServiceProvider  string    `db:"service_provider"`
	DomainPriceCents int64     `db:"domain_price_cents"`
	Position         int       `db:"position"`
	CreatedAt        time.Time `db:"created_at"`
	Mailboxes        []MailboxRecord
}

// MailboxRecord is a row of the mailboxes table.
type MailboxRecord struct {
	MailboxID uuid.UUID `db:"mailbox_id"`
	DomainID  uuid.UUID `db:"domain_id"`
	Email     string    `db:"email"`
	Status    string    `db:"status"`
	Position  int       `db:"position"`
}

// DomainStore provides access to the domains and mailboxes tables.
type DomainStore struct {
	pool      *pgxpool.Pool
	domains   string
	mailboxes string
}

// NewDomainStore creates a store; assumes BootstrapSchema already ran.
func NewDomainStore(pool *pgxpool.Pool, schema string) (*DomainStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := normalizeSchemaName(schema)
	if err != nil {
		return nil, err
	}
	return &DomainStore{
		pool:      pool,
		domains:   qualified(name, domainsTable),
		mailboxes: qualified(name, mailboxesTable),
	}, nil
}

// CreateWithMailboxes bulk inserts domains and their mailboxes in one transaction.
// Positions follow slice order.
func (s *DomainStore) CreateWithMailboxes(ctx context.Context, provisionID uuid.UUID, domains []DomainRecord) ([]DomainRecord, error) {
	if provisionID == uuid.Nil {
		return nil, errors.New("provision id is required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	insertDomain := fmt.Sprintf(`
        INSERT INTO %s (domain_id, provision_id, domain_name, status, service_provider, domain_price_cents, position)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        RETURNING domain_id, provision_id, domain_name, status, service_provider, domain_price_cents, position, created_at
    `, s.domains)
	insertMailbox := fmt.Sprintf(`
        INSERT INTO %s (mailbox_id, domain_id, email, status, position)
        VALUES ($1,$2,$3,$4,$5)
    `, s.mailboxes)

	out := make([]DomainRecord, 0, len(domains))
	for i, d := range domains {
		if d.DomainID == uuid.Nil {
			d.DomainID = uuid.New()
		}
		created, err := scanDomainRecord(tx.QueryRow(ctx, insertDomain,
			d.DomainID, provisionID, d.DomainName, d.Status, d.ServiceProvider, d.DomainPriceCents, i))
		if err != nil {
			return nil, fmt.Errorf("insert domain %s: %w", d.DomainName, err)
		}

		for j, m := range d.Mailboxes {
			if m.MailboxID == uuid.Nil {
				m.MailboxID = uuid.New()
			}
			m.DomainID = created.DomainID
			m.Position = j
			if _, err := tx.Exec(ctx, insertMailbox, m.MailboxID, m.DomainID, m.Email, m.Status, m.Position); err != nil {
				return nil, fmt.Errorf("insert mailbox %s: %w", m.Email, mapRowError(err))
			}
			created.Mailboxes = append(created.Mailboxes, m)
		}
		out = append(out, created)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

// ListByProvision returns the provision's domains in selection order, mailboxes included.
func (s *DomainStore) ListByProvision(ctx context.Context, provisionID uuid.UUID) ([]DomainRecord, error) {
	query := fmt.Sprintf(`
        SELECT domain_id, provision_id, domain_name, status, service_provider, domain_price_cents, position, created_at
        FROM %s WHERE provision_id = $1 ORDER BY position, domain_name
    `, s.domains)

	rows, err := s.pool.Query(ctx, query, provisionID)
	if err != nil {
		return nil, err
	}
	var domains []DomainRecord
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		rec, err := scanDomainRecord(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[rec.DomainID] = len(domains)
		domains = append(domains, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		return nil, nil
	}

	mailboxQuery := fmt.Sprintf(`
        SELECT m.mailbox_id, m.domain_id, m.email, m.status, m.position
        FROM %s m JOIN %s d ON d.domain_id = m.domain_id
        WHERE d.provision_id = $1
        ORDER BY d.position, m.position
    `, s.mailboxes, s.domains)

	mrows, err := s.pool.Query(ctx, mailboxQuery, provisionID)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()

	for mrows.Next() {
		var m MailboxRecord
		if err := mrows.Scan(&m.MailboxID, &m.DomainID, &m.Email, &m.Status, &m.Position); err != nil {
			return nil, err
		}
		if i, ok := index[m.DomainID]; ok {
			domains[i].Mailboxes = append(domains[i].Mailboxes, m)
		}
	}
	return domains, mrows.Err()
}

// SetStatus updates one domain's status.
func (s *DomainStore) SetStatus(ctx context.Context, domainID uuid.UUID, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2 WHERE domain_id = $1`, s.domains)
	tag, err := s.pool.Exec(ctx, query, domainID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMailboxStatus updates every mailbox of the provision.
func (s *DomainStore) SetMailboxStatus(ctx context.Context, provisionID uuid.UUID, status string) error {
	query := fmt.Sprintf(`
        UPDATE %s m SET status = $2
        FROM %s d
        WHERE d.domain_id = m.domain_id AND d.provision_id = $1
    `, s.mailboxes, s.domains)
	_, err := s.pool.Exec(ctx, query, provisionID, status)
	return err
}

func scanDomainRecord(row pgx.Row) (DomainRecord, error) {
	var rec DomainRecord
	if err := row.Scan(&rec.DomainID, &rec.ProvisionID, &rec.DomainName, &rec.Status, &rec.ServiceProvider,
		&rec.DomainPriceCents, &rec.Position, &rec.CreatedAt); err != nil {
		return DomainRecord{}, mapRowError(err)
	}
	return rec, nil
}
