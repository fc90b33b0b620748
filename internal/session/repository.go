package session

import (
	"context"
	"errors"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// ErrNotFound is returned when a session does not exist, belongs to another
// user, or has been soft-deleted.
var ErrNotFound = errors.New("patient session not found")

// ListFilter narrows List results. Deleted sessions are never returned.
type ListFilter struct {
	Status     model.SessionStatus // Empty matches every status
	Limit      int                 // <= 0 means no limit
	EligibleAt time.Time           // When set, only sessions expiring after it
}

// Repository defines persistence for patient sessions and each user's
// current-session pointer. List results are ordered newest first.
type Repository interface {
	Create(ctx context.Context, s *model.PatientSession) error
	Get(ctx context.Context, userID, id string) (*model.PatientSession, error)
	List(ctx context.Context, userID string, filter ListFilter) ([]*model.PatientSession, error)
	Update(ctx context.Context, s *model.PatientSession) error
	SoftDelete(ctx context.Context, userID, id string, at time.Time) error
	SoftDeleteAll(ctx context.Context, userID string, at time.Time) (int, error)
	AppendTranscription(ctx context.Context, userID, id string, t model.Transcription, at time.Time) error
	CurrentID(ctx context.Context, userID string) (string, error)
	SetCurrent(ctx context.Context, userID, sessionID string) error
}
