package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// DefaultSchema is where the provisioning tables live unless DATABASE_SCHEMA overrides it.
const DefaultSchema = "gtm"

const (
	tiersTable      = "gtm_tiers"
	provisionsTable = "gtm_provisions"
	domainsTable    = "gtm_domains"
	mailboxesTable  = "gtm_mailboxes"
	stepLogsTable   = "gtm_provisioning_step_logs"
)

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// normalizeSchemaName enforces a lowercase snake_case identifier that is safe to embed in SQL.
func normalizeSchemaName(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("schema name is required")
	}

	if !identifierPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid schema name %q: must match ^[a-z][a-z0-9_]*$", trimmed)
	}

	return trimmed, nil
}

func qualified(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
