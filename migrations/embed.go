// Package migrations holds the schema applied by the migrate command.
package migrations

import _ "embed"

// MySQL is applied to the OLTP store; ClickHouse to the analytics store.
var (
	//go:embed 001_init.sql
	MySQL string

	//go:embed clickhouse_001_send_attempts.sql
	ClickHouse string
)
