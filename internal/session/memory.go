package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// MemoryRepository keeps sessions in process memory. syncd uses it when no
// database is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.PatientSession // by ID
	current  map[string]string                // userID -> sessionID
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*model.PatientSession),
		current:  make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, s *model.PatientSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, userID, id string) (*model.PatientSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.live(userID, id)
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (r *MemoryRepository) List(_ context.Context, userID string, filter ListFilter) ([]*model.PatientSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*model.PatientSession
	for _, s := range r.sessions {
		if s.UserID != userID || s.DeletedAt != nil {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		if !filter.EligibleAt.IsZero() && !s.ExpiresAt.After(filter.EligibleAt) {
			continue
		}
		out = append(out, clone(s))
	}

	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, s *model.PatientSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.live(s.UserID, s.ID); !ok {
		return ErrNotFound
	}
	r.sessions[s.ID] = clone(s)
	return nil
}

func (r *MemoryRepository) SoftDelete(_ context.Context, userID, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live(userID, id)
	if !ok {
		return ErrNotFound
	}
	s.DeletedAt = &at
	s.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) SoftDeleteAll(_ context.Context, userID string, at time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.UserID == userID && s.DeletedAt == nil {
			deletedAt := at
			s.DeletedAt = &deletedAt
			s.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) AppendTranscription(_ context.Context, userID, id string, t model.Transcription, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.live(userID, id)
	if !ok {
		return ErrNotFound
	}
	s.Transcriptions = append(s.Transcriptions, t)
	s.UpdatedAt = at
	return nil
}

func (r *MemoryRepository) CurrentID(_ context.Context, userID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current[userID], nil
}

func (r *MemoryRepository) SetCurrent(_ context.Context, userID, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessionID == "" {
		delete(r.current, userID)
		return nil
	}
	r.current[userID] = sessionID
	return nil
}

// live must be called with r.mu held.
func (r *MemoryRepository) live(userID, id string) (*model.PatientSession, bool) {
	s, ok := r.sessions[id]
	if !ok || s.UserID != userID || s.DeletedAt != nil {
		return nil, false
	}
	return s, true
}

func clone(s *model.PatientSession) *model.PatientSession {
	c := *s
	c.Transcriptions = append([]model.Transcription(nil), s.Transcriptions...)
	return &c
}
