// Package syncer is the boundary to the durable document store. Plants
// and accounts live one jsonb document per row, keyed by id and email.
// Writes are best effort from the caller's point of view: a failure is
// surfaced but in-memory state stays the interim truth.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sony/gobreaker"

	"github.com/greenkeep/plantmonitor/internal/model"
)

var ErrNotFound = errors.New("syncer: document not found")

const schema = `
CREATE TABLE IF NOT EXISTS plants (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS accounts (
	email TEXT PRIMARY KEY,
	doc   JSONB NOT NULL
);`

type Store struct {
	pool    *pgxpool.Pool
	breaker *gobreaker.CircuitBreaker
}

// Open connects to the document store, retrying the initial ping with
// exponential backoff, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("syncer: parse dsn: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	if err := backoff.Retry(func() error {
		return pool.Ping(ctx)
	}, backoff.WithContext(bo, ctx)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("syncer: ping after retries: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("syncer: ensure schema: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "durable-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("syncer: breaker %s %s -> %s", name, from, to)
		},
	})

	log.Printf("syncer: connected to document store")
	return &Store{pool: pool, breaker: cb}, nil
}

func (s *Store) Close() { s.pool.Close() }

// exec runs a write through the circuit breaker and maps zero affected
// rows to ErrNotFound.
func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	_, err := s.breaker.Execute(func() (any, error) {
		tag, err := s.pool.Exec(ctx, sql, args...)
		if err != nil {
			return nil, err
		}
		if tag.RowsAffected() == 0 {
			return nil, ErrNotFound
		}
		return nil, nil
	})
	return err
}

// LoadAccountPlants fetches the documents for the given owned ids.
// Missing ids are skipped, not errors: a registry can briefly reference a
// document that was deleted elsewhere.
func (s *Store) LoadAccountPlants(ctx context.Context, ids []string) ([]model.Plant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT id, doc FROM plants WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("syncer: load plants: %w", err)
	}
	defer rows.Close()

	var out []model.Plant
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("syncer: scan plant: %w", err)
		}
		p, err := decodePlant(id, doc)
		if err != nil {
			log.Printf("syncer: undecodable document %s skipped: %v", id, err)
			continue
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePlant assigns a fresh id, stores the document, and returns the id.
func (s *Store) CreatePlant(ctx context.Context, p model.Plant) (string, error) {
	p.ID = uuid.NewString()
	doc, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("syncer: encode plant: %w", err)
	}
	_, err = s.breaker.Execute(func() (any, error) {
		return s.pool.Exec(ctx, `INSERT INTO plants (id, doc) VALUES ($1, $2)`, p.ID, doc)
	})
	if err != nil {
		return "", fmt.Errorf("syncer: create plant: %w", err)
	}
	return p.ID, nil
}

// SavePlant merges the given top-level fields into the stored document.
func (s *Store) SavePlant(ctx context.Context, id string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("syncer: encode patch: %w", err)
	}
	if err := s.exec(ctx, `UPDATE plants SET doc = doc || $2::jsonb WHERE id = $1`, id, patch); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("syncer: save plant %s: %w", id, err)
	}
	return nil
}

// DeletePlant removes the document for id.
func (s *Store) DeletePlant(ctx context.Context, id string) error {
	if err := s.exec(ctx, `DELETE FROM plants WHERE id = $1`, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("syncer: delete plant %s: %w", id, err)
	}
	return nil
}

// Account fetches the registry document for email.
func (s *Store) Account(ctx context.Context, email string) (model.Account, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM accounts WHERE email = $1`, email).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("syncer: load account: %w", err)
	}
	a := model.Account{Email: email}
	if err := json.Unmarshal(doc, &a); err != nil {
		return model.Account{}, fmt.Errorf("syncer: decode account: %w", err)
	}
	a.Email = email
	return a, nil
}

// CreateAccount stores a new registry document.
func (s *Store) CreateAccount(ctx context.Context, a model.Account) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("syncer: encode account: %w", err)
	}
	_, err = s.breaker.Execute(func() (any, error) {
		return s.pool.Exec(ctx, `INSERT INTO accounts (email, doc) VALUES ($1, $2)`, a.Email, doc)
	})
	if err != nil {
		return fmt.Errorf("syncer: create account: %w", err)
	}
	return nil
}

// AddOwnedPlant appends id to the account's owned set in a single
// statement, so concurrent add/delete never lose each other's update.
func (s *Store) AddOwnedPlant(ctx context.Context, email, plantID string) error {
	const q = `
UPDATE accounts
SET doc = jsonb_set(doc, '{ownedPlants}',
	COALESCE(doc->'ownedPlants', '[]'::jsonb) || to_jsonb($2::text))
WHERE email = $1`
	if err := s.exec(ctx, q, email, plantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("syncer: add owned plant: %w", err)
	}
	return nil
}

// RemoveOwnedPlant drops id from the account's owned set, atomically.
func (s *Store) RemoveOwnedPlant(ctx context.Context, email, plantID string) error {
	const q = `
UPDATE accounts
SET doc = jsonb_set(doc, '{ownedPlants}',
	COALESCE((SELECT jsonb_agg(e)
	          FROM jsonb_array_elements_text(COALESCE(doc->'ownedPlants', '[]'::jsonb)) AS t(e)
	          WHERE e <> $2), '[]'::jsonb))
WHERE email = $1`
	if err := s.exec(ctx, q, email, plantID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("syncer: remove owned plant: %w", err)
	}
	return nil
}

// decodePlant tolerates partial and legacy documents: absent fields
// default to zero values and empty logs.
func decodePlant(id string, doc []byte) (model.Plant, error) {
	var p model.Plant
	if err := json.Unmarshal(doc, &p); err != nil {
		return model.Plant{}, err
	}
	if p.ID == "" {
		p.ID = id
	}
	if p.WaterLog == nil {
		p.WaterLog = []time.Time{}
	}
	if p.MoistureLog == nil {
		p.MoistureLog = []model.TimedValue{}
	}
	if p.TemperatureLog == nil {
		p.TemperatureLog = []model.TimedValue{}
	}
	if p.LightLog == nil {
		p.LightLog = []time.Time{}
	}
	return p, nil
}
