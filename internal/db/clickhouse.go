package db

import (
	"fmt"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the audit database,
// e.g. clickhouse://default:@localhost:9000/citysync?dial_timeout=5s
func NewClickHouseConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty ClickHouse DSN")
	}
	return openPool("clickhouse", cfg, 3*time.Second)
}
