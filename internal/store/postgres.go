package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
)

const schema = `
CREATE TABLE IF NOT EXISTS wind_profiles (
	location_key  TEXT        NOT NULL,
	generated_at  TIMESTAMPTZ NOT NULL,
	run_model     TEXT        NOT NULL,
	run_cycle     TIMESTAMPTZ NOT NULL,
	forecast_hour INTEGER     NOT NULL,
	payload       JSONB       NOT NULL,
	PRIMARY KEY (location_key, generated_at)
);
CREATE INDEX IF NOT EXISTS wind_profiles_run_idx ON wind_profiles (run_model, run_cycle);
`

// PostgresStore persists profile history in PostgreSQL.
type PostgresStore struct {
	pool       *pgxpool.Pool
	maxHistory int
	maxAge     time.Duration
}

// NewPostgres connects to dsn and makes sure the schema exists. Retention
// matches NewMemoryStore: on save a location keeps at most maxHistory
// profiles, none older than maxAge. Non-positive limits are unlimited.
func NewPostgres(ctx context.Context, dsn string, maxHistory int, maxAge time.Duration) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &PostgresStore{pool: pool, maxHistory: maxHistory, maxAge: maxAge}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the wind_profiles table if needed.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveProfile(ctx context.Context, result weather.ProfileResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(
		`INSERT INTO wind_profiles (location_key, generated_at, run_model, run_cycle, forecast_hour, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (location_key, generated_at) DO UPDATE SET
			run_model = $3, run_cycle = $4, forecast_hour = $5, payload = $6`,
		result.Location.Key(), result.GeneratedAt, string(result.Run.Model), result.Run.Cycle, result.Run.ForecastHour, payload,
	)
	if s.maxAge > 0 {
		batch.Queue(
			`DELETE FROM wind_profiles WHERE location_key = $1 AND generated_at < $2`,
			result.Location.Key(), result.GeneratedAt.Add(-s.maxAge),
		)
	}
	if s.maxHistory > 0 {
		batch.Queue(
			`DELETE FROM wind_profiles
			 WHERE location_key = $1 AND generated_at NOT IN (
				SELECT generated_at FROM wind_profiles
				WHERE location_key = $1
				ORDER BY generated_at DESC
				LIMIT $2)`,
			result.Location.Key(), s.maxHistory,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("save profile: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) GetLatest(ctx context.Context, loc weather.Location) (weather.ProfileResult, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM wind_profiles
		 WHERE location_key = $1
		 ORDER BY generated_at DESC
		 LIMIT 1`,
		loc.Key(),
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return weather.ProfileResult{}, ErrNotFound
	}
	if err != nil {
		return weather.ProfileResult{}, fmt.Errorf("latest profile: %w", err)
	}
	return decodeProfile(payload)
}

func (s *PostgresStore) GetRange(ctx context.Context, loc weather.Location, from, to time.Time) ([]weather.ProfileResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM wind_profiles
		 WHERE location_key = $1 AND generated_at >= $2 AND generated_at <= $3
		 ORDER BY generated_at`,
		loc.Key(), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("profile history: %w", err)
	}
	defer rows.Close()

	var result []weather.ProfileResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		p, err := decodeProfile(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile history: %w", err)
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

func decodeProfile(payload []byte) (weather.ProfileResult, error) {
	var p weather.ProfileResult
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

var _ weather.Store = (*PostgresStore)(nil)
