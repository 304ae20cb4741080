package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geocode-pipeline/internal/db"
	"github.com/sells-group/geocode-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (queue claiming, reference import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS addresses (
	id             BIGSERIAL PRIMARY KEY,
	address_1      TEXT NOT NULL DEFAULT '',
	address_2      TEXT NOT NULL DEFAULT '',
	city           TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	zip_code       TEXT NOT NULL DEFAULT '',
	country        TEXT NOT NULL DEFAULT 'US',
	latitude       TEXT NOT NULL DEFAULT '',
	longitude      TEXT NOT NULL DEFAULT '',
	coords_accuracy INT NOT NULL DEFAULT 0,
	geocoded       INT NOT NULL DEFAULT 0,
	geocoding_data JSONB,
	user_geocoded  BOOLEAN NOT NULL DEFAULT false,
	verified       INT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_addresses_unverified
	ON addresses (updated_at DESC, id DESC) WHERE verified = 0;

CREATE INDEX IF NOT EXISTS idx_addresses_geocoded ON addresses (geocoded);

CREATE TABLE IF NOT EXISTS verified_addresses (
	country   TEXT NOT NULL,
	zip_code  TEXT NOT NULL,
	city      TEXT NOT NULL DEFAULT '',
	state     TEXT NOT NULL DEFAULT '',
	county    TEXT NOT NULL DEFAULT '',
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (country, zip_code)
);

CREATE TABLE IF NOT EXISTS geocode_queue (
	id         BIGSERIAL PRIMARY KEY,
	address_id BIGINT NOT NULL UNIQUE REFERENCES addresses(id),
	status     TEXT NOT NULL DEFAULT 'pending',
	attempts   INT NOT NULL DEFAULT 0,
	error      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_geocode_queue_pending
	ON geocode_queue (created_at) WHERE status = 'pending';
`

// Migrate creates the pipeline tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const addressColumns = `id, address_1, address_2, city, state, zip_code, country,
	latitude, longitude, coords_accuracy, geocoded, geocoding_data,
	user_geocoded, verified, created_at, updated_at`

func scanAddress(row pgx.Row) (*model.Address, error) {
	a := &model.Address{}
	err := row.Scan(
		&a.ID, &a.AddressLine1, &a.AddressLine2, &a.City, &a.State, &a.ZipCode, &a.Country,
		&a.Latitude, &a.Longitude, &a.CoordsAccuracy, &a.Geocoded, &a.GeocodingData,
		&a.UserGeocoded, &a.Verified, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetAddress fetches an address by ID. Returns (nil, nil) when no row exists.
func (s *PostgresStore) GetAddress(ctx context.Context, id int64) (*model.Address, error) {
	a, err := scanAddress(s.pool.QueryRow(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get address %d", id)
	}
	return a, nil
}

// ListUngeocoded returns addresses that have never been geocoded.
func (s *PostgresStore) ListUngeocoded(ctx context.Context, limit int) ([]model.Address, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE geocoded = $1 ORDER BY id LIMIT $2`,
		model.NotGeocoded, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list ungeocoded")
	}
	return collectAddresses(rows, "store: list ungeocoded")
}

// SaveGeocodeResult persists the outcome of a geocode attempt. Coordinates
// are written only when res.SetCoordinates is true, which is how
// user-supplied coordinates survive automated geocoding.
func (s *PostgresStore) SaveGeocodeResult(ctx context.Context, id int64, res model.GeocodeResult) error {
	var err error
	if res.SetCoordinates {
		_, err = s.pool.Exec(ctx, `
			UPDATE addresses SET
				latitude = $2, longitude = $3, coords_accuracy = $4,
				geocoded = $5, geocoding_data = $6, updated_at = now()
			WHERE id = $1`,
			id, res.Latitude, res.Longitude, res.Accuracy, res.Status, res.Payload)
	} else {
		_, err = s.pool.Exec(ctx, `
			UPDATE addresses SET
				coords_accuracy = $2, geocoded = $3, geocoding_data = $4, updated_at = now()
			WHERE id = $1`,
			id, res.Accuracy, res.Status, res.Payload)
	}
	if err != nil {
		return eris.Wrapf(err, "store: save geocode result for %d", id)
	}
	return nil
}

// SetGeocodeStatus updates only the geocode status column.
func (s *PostgresStore) SetGeocodeStatus(ctx context.Context, id int64, status model.GeocodeStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE addresses SET geocoded = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return eris.Wrapf(err, "store: set geocode status for %d", id)
	}
	return nil
}

// ListUnverified returns up to limit NOT_VERIFIED addresses, most recently
// modified first, ties broken by descending id.
func (s *PostgresStore) ListUnverified(ctx context.Context, limit int) ([]model.Address, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+addressColumns+` FROM addresses
		 WHERE verified = $1
		 ORDER BY updated_at DESC, id DESC
		 LIMIT $2`,
		model.NotVerified, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list unverified")
	}
	return collectAddresses(rows, "store: list unverified")
}

// SetVerifyStatus updates only the verification status column.
func (s *PostgresStore) SetVerifyStatus(ctx context.Context, id int64, status model.VerifyStatus) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE addresses SET verified = $2, updated_at = now() WHERE id = $1`,
		id, status)
	if err != nil {
		return eris.Wrapf(err, "store: set verify status for %d", id)
	}
	return nil
}

// MarkVerifiedBatch marks all ids VERIFIED and runs beforeCommit inside the
// same transaction. If beforeCommit fails, every status write is rolled
// back: marking verified and notifying are one atomic unit.
func (s *PostgresStore) MarkVerifiedBatch(ctx context.Context, ids []int64, beforeCommit func(ctx context.Context) error) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "store: begin verify batch")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`UPDATE addresses SET verified = $2, updated_at = now() WHERE id = ANY($1)`,
		ids, model.Verified)
	if err != nil {
		return eris.Wrap(err, "store: mark verified batch")
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return eris.Wrap(err, "store: verify batch notification")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "store: commit verify batch")
	}
	return nil
}

// GetVerifiedAddress fetches the trusted reference row for (country, zip).
// Returns (nil, nil) when no reference exists.
func (s *PostgresStore) GetVerifiedAddress(ctx context.Context, country, zip string) (*model.VerifiedAddress, error) {
	v := &model.VerifiedAddress{}
	err := s.pool.QueryRow(ctx,
		`SELECT country, zip_code, city, state, county, latitude, longitude
		 FROM verified_addresses WHERE country = $1 AND zip_code = $2`,
		country, zip,
	).Scan(&v.Country, &v.ZipCode, &v.City, &v.State, &v.County, &v.Latitude, &v.Longitude)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "store: get verified address %s/%s", country, zip)
	}
	return v, nil
}

func collectAddresses(rows pgx.Rows, wrapMsg string) ([]model.Address, error) {
	defer rows.Close()

	var out []model.Address
	for rows.Next() {
		a := model.Address{}
		err := rows.Scan(
			&a.ID, &a.AddressLine1, &a.AddressLine2, &a.City, &a.State, &a.ZipCode, &a.Country,
			&a.Latitude, &a.Longitude, &a.CoordsAccuracy, &a.Geocoded, &a.GeocodingData,
			&a.UserGeocoded, &a.Verified, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, eris.Wrap(err, wrapMsg)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, wrapMsg)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
