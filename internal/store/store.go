package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/greeter/internal/types"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ErrNotFound is returned when an identity id or name does not exist.
var ErrNotFound = errors.New("identity not found")

// Store manages the PostgreSQL connection and pgvector operations.
// A single pgx.Conn is not safe for concurrent use, so every call holds mu;
// the audit recorder and the gallery reloader share one Store.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// IdentitySummary is one row of the identity listing.
type IdentitySummary struct {
	ID        int
	Name      string
	Samples   int
	CreatedAt time.Time
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	// The vector type only exists once the extension is created.
	if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to register vector types: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables and vector extension if they don't exist (Auto-Migration).
// Embeddings are stored unconstrained so any embedder dimension works; the
// matcher rejects a gallery with mixed dimensions.
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS known_identities (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS identity_embeddings (
			id BIGSERIAL PRIMARY KEY,
			identity_id INT NOT NULL REFERENCES known_identities(id) ON DELETE CASCADE,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS greeting_events (
			id UUID PRIMARY KEY,
			identity_id INT REFERENCES known_identities(id) ON DELETE SET NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			track_id BIGINT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			forced BOOLEAN NOT NULL DEFAULT FALSE,
			utterance TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS identity_embeddings_identity_id_idx ON identity_embeddings (identity_id);
		CREATE INDEX IF NOT EXISTS greeting_events_occurred_at_idx ON greeting_events (occurred_at DESC);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// CreateIdentity inserts a new identity and returns its ID.
func (s *Store) CreateIdentity(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int
	err := s.conn.QueryRow(ctx, "INSERT INTO known_identities (name) VALUES ($1) RETURNING id", name).Scan(&id)
	return id, err
}

// AddEmbedding attaches one more reference embedding to an identity.
func (s *Store) AddEmbedding(ctx context.Context, id int, vec []float32) error {
	if err := types.ValidateEmbedding(vec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, "INSERT INTO identity_embeddings (identity_id, embedding) VALUES ($1, $2)", id, pgvector.NewVector(vec))
	if isForeignKeyViolation(err) {
		return fmt.Errorf("identity %d: %w", id, ErrNotFound)
	}
	return err
}

// FindIdentityByName returns the id for name.
func (s *Store) FindIdentityByName(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var id int
	err := s.conn.QueryRow(ctx, "SELECT id FROM known_identities WHERE name = $1", name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// Enroll adds vec to the identity called name, creating it when missing.
func (s *Store) Enroll(ctx context.Context, name string, vec []float32) (id int, created bool, err error) {
	if err := types.ValidateEmbedding(vec); err != nil {
		return 0, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, "SELECT id FROM known_identities WHERE name = $1", name).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		if err := tx.QueryRow(ctx, "INSERT INTO known_identities (name) VALUES ($1) RETURNING id", name).Scan(&id); err != nil {
			return 0, false, err
		}
		created = true
	} else if err != nil {
		return 0, false, err
	}

	if _, err := tx.Exec(ctx, "INSERT INTO identity_embeddings (identity_id, embedding) VALUES ($1, $2)", id, pgvector.NewVector(vec)); err != nil {
		return 0, false, err
	}
	return id, created, tx.Commit(ctx)
}

// ListIdentities returns every identity with its sample count.
func (s *Store) ListIdentities(ctx context.Context) ([]IdentitySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT k.id, k.name, COUNT(e.id), k.created_at
		FROM known_identities k
		LEFT JOIN identity_embeddings e ON e.identity_id = k.id
		GROUP BY k.id
		ORDER BY k.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IdentitySummary
	for rows.Next() {
		var is IdentitySummary
		if err := rows.Scan(&is.ID, &is.Name, &is.Samples, &is.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// RenameIdentity updates the name of a known identity.
func (s *Store) RenameIdentity(ctx context.Context, id int, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, "UPDATE known_identities SET name = $1 WHERE id = $2", newName, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteIdentity removes an identity and its embeddings. Past events keep their name.
func (s *Store) DeleteIdentity(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tag, err := s.conn.Exec(ctx, "DELETE FROM known_identities WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AllIdentities loads every identity with all of its reference embeddings.
// It implements matcher.Source.
func (s *Store) AllIdentities(ctx context.Context) ([]types.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT k.id, k.name, e.embedding
		FROM known_identities k
		JOIN identity_embeddings e ON e.identity_id = k.id
		ORDER BY k.id, e.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		var (
			id   int
			name string
			vec  pgvector.Vector
		)
		if err := rows.Scan(&id, &name, &vec); err != nil {
			return nil, err
		}
		if n := len(out); n == 0 || out[n-1].ID != id {
			out = append(out, types.Identity{ID: id, Name: name})
		}
		last := &out[len(out)-1]
		last.Embeddings = append(last.Embeddings, vec.Slice())
	}
	return out, rows.Err()
}

// LogEvent persists one greeting event.
func (s *Store) LogEvent(ctx context.Context, ev types.Event) error {
	id, err := uuid.Parse(ev.ID)
	if err != nil {
		return fmt.Errorf("event id %q: %w", ev.ID, err)
	}
	var identityID *int
	if ev.IdentityID != types.Unknown {
		identityID = &ev.IdentityID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO greeting_events (id, identity_id, name, kind, track_id, score, forced, utterance, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`, id, identityID, ev.Name, string(ev.Kind), ev.TrackID, ev.Score, ev.Forced, ev.Text, ev.Timestamp)
	return err
}

// ListEvents returns the most recent events, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]types.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.conn.Query(ctx, `
		SELECT id::text, COALESCE(identity_id, 0), name, kind, track_id, score, forced, utterance, occurred_at
		FROM greeting_events
		ORDER BY occurred_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var ev types.Event
		var kind string
		if err := rows.Scan(&ev.ID, &ev.IdentityID, &ev.Name, &kind, &ev.TrackID, &ev.Score, &ev.Forced, &ev.Text, &ev.Timestamp); err != nil {
			return nil, err
		}
		ev.Kind = types.EventKind(kind)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS greeting_events CASCADE;
		DROP TABLE IF EXISTS identity_embeddings CASCADE;
		DROP TABLE IF EXISTS known_identities CASCADE;
	`)
	return err
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
