package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the analytics store that receives send attempts.
// An empty DSN means analytics are disabled and (nil, nil) is returned.
// DSN example: clickhouse://default:@localhost:9000/drip?dial_timeout=5s&compress=true
func NewClickHouseConnection(dsn string, opts Opts) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, nil
	}
	return open("clickhouse", dsn, opts, 3*time.Second)
}
