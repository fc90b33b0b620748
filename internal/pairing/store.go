package pairing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// Store persists pairing tokens.
type Store interface {
	Create(ctx context.Context, t *model.PairingToken) error
	Get(ctx context.Context, token string) (*model.PairingToken, error)
	Touch(ctx context.Context, token string, at time.Time) error
	Deactivate(ctx context.Context, token string) error
	// DeleteExpired removes tokens that expired before cutoff and returns
	// how many were removed.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore keeps pairing tokens in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]model.PairingToken
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]model.PairingToken)}
}

func (s *MemoryStore) Create(_ context.Context, t *model.PairingToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Token] = *t
	return nil
}

func (s *MemoryStore) Get(_ context.Context, token string) (*model.PairingToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) Touch(_ context.Context, token string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return ErrNotFound
	}
	t.LastUsedAt = &at
	s.tokens[token] = t
	return nil
}

func (s *MemoryStore) Deactivate(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[token]
	if !ok {
		return ErrNotFound
	}
	t.IsActive = false
	s.tokens[token] = t
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for token, t := range s.tokens {
		if t.ExpiresAt.Before(cutoff) {
			delete(s.tokens, token)
			n++
		}
	}
	return n, nil
}

// PostgresStore persists pairing tokens in the pairing_tokens table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore returns a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, t *model.PairingToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pairing_tokens (token, user_id, session_id, is_guest, is_active, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.Token, t.UserID, t.SessionID, t.Guest, t.IsActive, t.ExpiresAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert pairing token: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, token string) (*model.PairingToken, error) {
	var t model.PairingToken
	err := s.pool.QueryRow(ctx, `
		SELECT token, user_id, session_id, is_guest, is_active, expires_at, last_used_at, created_at
		FROM pairing_tokens WHERE token = $1`, token,
	).Scan(&t.Token, &t.UserID, &t.SessionID, &t.Guest, &t.IsActive, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query pairing token: %w", err)
	}
	return &t, nil
}

func (s *PostgresStore) Touch(ctx context.Context, token string, at time.Time) error {
	return s.exec(ctx, `UPDATE pairing_tokens SET last_used_at = $2 WHERE token = $1`, token, at)
}

func (s *PostgresStore) Deactivate(ctx context.Context, token string) error {
	return s.exec(ctx, `UPDATE pairing_tokens SET is_active = FALSE WHERE token = $1`, token)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM pairing_tokens WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired pairing tokens: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update pairing token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
