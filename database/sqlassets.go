package sqlassets

import _ "embed"

//go:embed schema/platform/tiers.sql
var TiersSQL string

//go:embed schema/platform/provisions.sql
var ProvisionsSQL string

//go:embed schema/platform/domains.sql
var DomainsSQL string

//go:embed schema/platform/step_logs.sql
var StepLogsSQL string

//go:embed schema/seed/tiers.sql
var SeedTiersSQL string
