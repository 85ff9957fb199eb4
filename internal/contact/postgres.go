package contact

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the emergency_contacts table.
const Schema = `
CREATE TABLE IF NOT EXISTS emergency_contacts (
    id           TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL DEFAULT '',
    name         TEXT NOT NULL,
    phone        TEXT NOT NULL DEFAULT '',
    relationship TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_emergency_contacts_owner ON emergency_contacts(owner_id, created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. Every query is scoped to
// one owner so several users can share a database.
type PostgresStore struct {
	db    DB
	owner string
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store for owner's contacts. Call
// [PostgresStore.Migrate] before the first query.
func NewPostgresStore(db DB, owner string) *PostgresStore {
	return &PostgresStore{db: db, owner: owner}
}

// OpenPostgres connects a pool to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("contact: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("contact: ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the emergency_contacts table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("contact: migrate: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable. Connections without a
// Ping method are assumed healthy.
func (s *PostgresStore) Ping(ctx context.Context) error {
	p, ok := s.db.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("contact: ping: %w", err)
	}
	return nil
}

// Add implements [Store.Add].
func (s *PostgresStore) Add(ctx context.Context, c Contact) (Contact, error) {
	if err := c.Validate(); err != nil {
		return Contact{}, err
	}
	if c.ID == "" {
		c.ID = newID()
	}

	const query = `
		INSERT INTO emergency_contacts (id, owner_id, name, phone, relationship)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRow(ctx, query, c.ID, s.owner, c.Name, c.Phone, c.Relationship).Scan(&c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Contact{}, ErrDuplicateID
		}
		return Contact{}, fmt.Errorf("contact: add: %w", err)
	}
	return c, nil
}

// Get implements [Store.Get].
func (s *PostgresStore) Get(ctx context.Context, id string) (Contact, error) {
	const query = `
		SELECT id, name, phone, relationship, created_at
		FROM emergency_contacts
		WHERE id = $1 AND owner_id = $2`

	var c Contact
	err := s.db.QueryRow(ctx, query, id, s.owner).Scan(&c.ID, &c.Name, &c.Phone, &c.Relationship, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("contact: get %q: %w", id, err)
	}
	return c, nil
}

// List implements [Store.List], ordered by creation time.
func (s *PostgresStore) List(ctx context.Context) ([]Contact, error) {
	const query = `
		SELECT id, name, phone, relationship, created_at
		FROM emergency_contacts
		WHERE owner_id = $1
		ORDER BY created_at, id`

	rows, err := s.db.Query(ctx, query, s.owner)
	if err != nil {
		return nil, fmt.Errorf("contact: list: %w", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Relationship, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("contact: list scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact: list rows: %w", err)
	}
	return out, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, c Contact) error {
	if err := c.Validate(); err != nil {
		return err
	}
	const query = `
		UPDATE emergency_contacts SET name = $3, phone = $4, relationship = $5
		WHERE id = $1 AND owner_id = $2`

	tag, err := s.db.Exec(ctx, query, c.ID, s.owner, c.Name, c.Phone, c.Relationship)
	if err != nil {
		return fmt.Errorf("contact: update %q: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Remove implements [Store.Remove].
func (s *PostgresStore) Remove(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM emergency_contacts WHERE id = $1 AND owner_id = $2`, id, s.owner)
	if err != nil {
		return fmt.Errorf("contact: remove %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError reports a PostgreSQL unique violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
