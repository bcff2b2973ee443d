package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmehdipour/city-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

// CitiesRepository reads the authoritative City rows. Writes belong to the city CRUD layer;
// Upsert exists for seeding.
type CitiesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.City, error)
	Upsert(ctx context.Context, tx *sqlx.Tx, c *model.City) error
}

type CitiesRepositoryImpl struct {
	db *sqlx.DB
}

func NewCitiesRepository(db *sqlx.DB) *CitiesRepositoryImpl {
	return &CitiesRepositoryImpl{db: db}
}

var _ CitiesRepository = (*CitiesRepositoryImpl)(nil)

// GetByID returns (nil, nil) when the city does not exist.
func (r *CitiesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.City, error) {
	var c model.City
	err := r.db.GetContext(ctx, &c, `
		SELECT id, name, code, country, timezone, latitude, longitude, is_active,
		       version, sequence, created_at, updated_at
		  FROM cities
		 WHERE id = ? LIMIT 1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert inserts or updates by code, bumping version/sequence on update, and reloads c.
func (r *CitiesRepositoryImpl) Upsert(ctx context.Context, tx *sqlx.Tx, c *model.City) error {
	const q = `
		INSERT INTO cities
		    (name, code, country, timezone, latitude, longitude, is_active, version, sequence, created_at, updated_at)
		VALUES
		    (?,    ?,    ?,       ?,        ?,        ?,         ?,         1,       1,        NOW(6),     NOW(6))
		ON DUPLICATE KEY UPDATE
		    name       = VALUES(name),
		    country    = VALUES(country),
		    timezone   = VALUES(timezone),
		    latitude   = VALUES(latitude),
		    longitude  = VALUES(longitude),
		    is_active  = VALUES(is_active),
		    version    = version + 1,
		    sequence   = sequence + 1,
		    updated_at = NOW(6)
	`
	if _, err := tx.ExecContext(ctx, q,
		c.Name, c.Code, c.Country, c.Timezone, c.Latitude, c.Longitude, c.IsActive,
	); err != nil {
		return err
	}
	return tx.GetContext(ctx, c, `
		SELECT id, name, code, country, timezone, latitude, longitude, is_active,
		       version, sequence, created_at, updated_at
		  FROM cities
		 WHERE code = ?
	`, c.Code)
}
