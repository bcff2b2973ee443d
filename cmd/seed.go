package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmehdipour/city-sync/internal/config"
	"github.com/jmehdipour/city-sync/internal/db"
	"github.com/jmehdipour/city-sync/internal/logger"
	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmehdipour/city-sync/internal/repository"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo cities",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel, cfg.ServiceName)
		defer logger.Sync()

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		logger.Log.Info("seeding demo cities")
		n, err := seedCities(cmd.Context(), sqlDB, cfg.Kafka.Topic)
		if err != nil {
			return err
		}

		logger.Log.Info("seed completed", zap.Int("cities", n))
		return nil
	},
}

var demoCities = []model.City{
	{Name: "Lisbon", Code: "LIS", Country: "PT", Timezone: "Europe/Lisbon", Latitude: 38.7223, Longitude: -9.1393, IsActive: true},
	{Name: "Porto", Code: "OPO", Country: "PT", Timezone: "Europe/Lisbon", Latitude: 41.1579, Longitude: -8.6291, IsActive: true},
	{Name: "Madrid", Code: "MAD", Country: "ES", Timezone: "Europe/Madrid", Latitude: 40.4168, Longitude: -3.7038, IsActive: true},
	{Name: "Berlin", Code: "BER", Country: "DE", Timezone: "Europe/Berlin", Latitude: 52.52, Longitude: 13.405, IsActive: true},
	{Name: "Tallinn", Code: "TLL", Country: "EE", Timezone: "Europe/Tallinn", Latitude: 59.437, Longitude: 24.7536, IsActive: false},
}

// seedCities upserts the demo cities and writes one outbox mutation per city in the
// same transaction, so the relay worker sees exactly what was committed. Re-running
// produces UPDATED mutations with a bumped version.
func seedCities(ctx context.Context, dbx *sqlx.DB, topic string) (int, error) {
	cities := repository.NewCitiesRepository(dbx)
	outbox := repository.NewOutboxRepository(dbx)

	tx, err := dbx.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range demoCities {
		var prev model.City
		err := tx.GetContext(ctx, &prev, `
			SELECT id, name, code, country, timezone, latitude, longitude, is_active,
			       version, sequence, created_at, updated_at
			  FROM cities WHERE code = ? FOR UPDATE
		`, c.Code)
		found := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("load city %s: %w", c.Code, err)
		}

		city := c
		if err := cities.Upsert(ctx, tx, &city); err != nil {
			return 0, fmt.Errorf("upsert city %s: %w", c.Code, err)
		}

		m := model.Mutation{Op: model.EventCreated, TriggeredBy: "seed", After: city}
		if found {
			m.Op = model.EventUpdated
			m.Before = &prev
		}
		if err := outbox.InsertMutation(ctx, tx, topic, m); err != nil {
			return 0, fmt.Errorf("outbox city %s: %w", c.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit cities: %w", err)
	}
	return len(demoCities), nil
}
