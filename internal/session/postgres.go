package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicpro/dictation-sync/internal/model"
)

const sessionColumns = `id, user_id, patient_name, template_id, status, transcriptions,
	notes, created_at, updated_at, completed_at, expires_at, deleted_at`

// PostgresRepository persists sessions in the patient_sessions and users tables.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository returns a session repository backed by pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts s, creating its owning user row on first use.
func (r *PostgresRepository) Create(ctx context.Context, s *model.PatientSession) error {
	if err := r.ensureUser(ctx, s.UserID); err != nil {
		return err
	}

	transcriptions, err := json.Marshal(nonNil(s.Transcriptions))
	if err != nil {
		return fmt.Errorf("marshal transcriptions: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO patient_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.UserID, s.PatientName, s.TemplateID, string(s.Status), transcriptions,
		s.Notes, s.CreatedAt, s.UpdatedAt, s.CompletedAt, s.ExpiresAt, s.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Get returns a live session owned by userID.
func (r *PostgresRepository) Get(ctx context.Context, userID, id string) (*model.PatientSession, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM patient_sessions
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)

	s, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// List returns live sessions for userID, newest first.
func (r *PostgresRepository) List(ctx context.Context, userID string, filter ListFilter) ([]*model.PatientSession, error) {
	var (
		where = []string{"user_id = $1", "deleted_at IS NULL"}
		args  = []any{userID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !filter.EligibleAt.IsZero() {
		args = append(args, filter.EligibleAt)
		where = append(where, fmt.Sprintf("expires_at > $%d", len(args)))
	}

	query := `SELECT ` + sessionColumns + ` FROM patient_sessions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*model.PatientSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update writes the mutable fields of s.
func (r *PostgresRepository) Update(ctx context.Context, s *model.PatientSession) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_sessions
		SET patient_name = $3, template_id = $4, status = $5, notes = $6,
		    updated_at = $7, completed_at = $8
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		s.ID, s.UserID, s.PatientName, s.TemplateID, string(s.Status), s.Notes,
		s.UpdatedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete marks one session deleted.
func (r *PostgresRepository) SoftDelete(ctx context.Context, userID, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_sessions SET deleted_at = $3, updated_at = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID, at)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteAll marks every live session of userID deleted.
func (r *PostgresRepository) SoftDeleteAll(ctx context.Context, userID string, at time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_sessions SET deleted_at = $2, updated_at = $2
		WHERE user_id = $1 AND deleted_at IS NULL`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendTranscription appends t to the session's transcription array.
func (r *PostgresRepository) AppendTranscription(ctx context.Context, userID, id string, t model.Transcription, at time.Time) error {
	entry, err := json.Marshal([]model.Transcription{t})
	if err != nil {
		return fmt.Errorf("marshal transcription: %w", err)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE patient_sessions
		SET transcriptions = transcriptions || $3::jsonb, updated_at = $4
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID, entry, at)
	if err != nil {
		return fmt.Errorf("append transcription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CurrentID returns the user's current-session pointer, or "" when unset.
func (r *PostgresRepository) CurrentID(ctx context.Context, userID string) (string, error) {
	var id *string
	err := r.pool.QueryRow(ctx,
		`SELECT current_session_id::text FROM users WHERE id = $1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) || id == nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query current session: %w", err)
	}
	return *id, nil
}

// SetCurrent moves the user's current-session pointer. "" clears it.
func (r *PostgresRepository) SetCurrent(ctx context.Context, userID, sessionID string) error {
	var current *string
	if sessionID != "" {
		current = &sessionID
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, is_guest, current_session_id)
		VALUES ($1, $2, $3::uuid)
		ON CONFLICT (id) DO UPDATE
		SET current_session_id = EXCLUDED.current_session_id, updated_at = now()`,
		userID, strings.HasPrefix(userID, model.GuestPrefix), current)
	if err != nil {
		return fmt.Errorf("set current session: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ensureUser(ctx context.Context, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, is_guest) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`,
		userID, strings.HasPrefix(userID, model.GuestPrefix))
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}
	return nil
}

func scanSession(row pgx.Row) (*model.PatientSession, error) {
	var (
		s              model.PatientSession
		status         string
		transcriptions []byte
	)
	err := row.Scan(
		&s.ID, &s.UserID, &s.PatientName, &s.TemplateID, &status, &transcriptions,
		&s.Notes, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt, &s.ExpiresAt, &s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = model.SessionStatus(status)
	if len(transcriptions) > 0 {
		if err := json.Unmarshal(transcriptions, &s.Transcriptions); err != nil {
			return nil, fmt.Errorf("decode transcriptions: %w", err)
		}
	}
	return &s, nil
}

func nonNil(ts []model.Transcription) []model.Transcription {
	if ts == nil {
		return []model.Transcription{}
	}
	return ts
}
