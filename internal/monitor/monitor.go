// Package monitor provides the Postgres-backed lookup of which monitors a
// principal may access. This is the only durable data the service touches;
// chat messages themselves are transient and never persisted.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Monitor describes one monitor a user has access to. Returned to clients
// at login alongside the admission token.
type Monitor struct {
	MonitorHash      string    `json:"monitor_hash"`
	OrganizationName string    `json:"organization_name"`
	Type             string    `json:"type"`
	Title            string    `json:"title"`
	ShortDescription string    `json:"short_description"`
	Public           bool      `json:"public"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	ProjectURL       string    `json:"project_url"`
}

// Store looks up monitor access for principals.
type Store interface {
	// MonitorsForUser returns every monitor the given email may join.
	MonitorsForUser(ctx context.Context, email string) ([]Monitor, error)
	// Ping verifies database connectivity.
	Ping(ctx context.Context) error
}

// PGStore is the pgx-backed Store implementation.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to Postgres and returns a store backed by a
// connection pool.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

const monitorsForUserQuery = `
SELECT m.monitor_hash, m.organization_name, m.type, m.title,
       m.short_description, m.public, m.created_at, m.updated_at, m.project_url
FROM monitors m
WHERE m.monitor_hash IN (
    SELECT m2.monitor_hash
    FROM monitor_user mu
    JOIN users u ON mu.user_id = u.id
    JOIN monitors m2 ON mu.monitor_id = m2.id
    WHERE u.email = $1)`

// MonitorsForUser returns every monitor the given email may join.
func (s *PGStore) MonitorsForUser(ctx context.Context, email string) ([]Monitor, error) {
	rows, err := s.pool.Query(ctx, monitorsForUserQuery, email)
	if err != nil {
		return nil, fmt.Errorf("query monitors for %s: %w", email, err)
	}
	defer rows.Close()

	var monitors []Monitor
	for rows.Next() {
		var m Monitor
		if err := rows.Scan(
			&m.MonitorHash, &m.OrganizationName, &m.Type, &m.Title,
			&m.ShortDescription, &m.Public, &m.CreatedAt, &m.UpdatedAt, &m.ProjectURL,
		); err != nil {
			return nil, fmt.Errorf("scan monitor row: %w", err)
		}
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitor rows: %w", err)
	}
	return monitors, nil
}

// Ping verifies database connectivity.
func (s *PGStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}
