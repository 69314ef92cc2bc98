package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/modernagencysales/gc-member-portal-sub004/database"
)

// BootstrapSchema creates the provisioning schema (if missing) and applies the
// embedded DDL in one transaction with search_path pinned to that schema:
//  1. platform/tiers.sql
//  2. platform/provisions.sql
//  3. platform/domains.sql
//  4. platform/step_logs.sql
//
// When seedTiers is set the default tier catalog is inserted as well. The
// statements are idempotent so the CLI and tests may call this repeatedly.
func BootstrapSchema(ctx context.Context, pool *pgxpool.Pool, schema string, seedTiers bool) error {
	if pool == nil {
		return fmt.Errorf("bootstrap schema: pool is required")
	}
	name, err := normalizeSchemaName(schema)
	if err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}

	var statements []string
	statements = append(statements, splitStatements(sqlassets.TiersSQL)...)
	statements = append(statements, splitStatements(sqlassets.ProvisionsSQL)...)
	statements = append(statements, splitStatements(sqlassets.DomainsSQL)...)
	statements = append(statements, splitStatements(sqlassets.StepLogsSQL)...)
	if seedTiers {
		statements = append(statements, splitStatements(sqlassets.SeedTiersSQL)...)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, name); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply ddl: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func splitStatements(sql string) []string {
	raw := strings.Split(sql, ";")
	out := make([]string, 0, len(raw))
	for _, stmt := range raw {
		trimmed := strings.TrimSpace(stmt)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}
