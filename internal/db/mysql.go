package db

import (
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the event log / city database. The DSN must carry parseTime=true.
func NewMySQLConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("empty MySQL DSN")
	}
	return openPool("mysql", cfg, 5*time.Second)
}
