package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row lookup matches nothing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when an insert violates a unique constraint.
	ErrConflict = errors.New("record already exists")
	// ErrStaleStatus is returned when a conditional status update finds a different current status.
	ErrStaleStatus = errors.New("status changed concurrently")
	// ErrInvalidTier is returned for a tier that cannot be stored.
	ErrInvalidTier = errors.New("invalid tier")
)

const uniqueViolation = "23505"

func mapRowError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
