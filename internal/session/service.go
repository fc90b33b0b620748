package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicpro/dictation-sync/internal/model"
)

var (
	// ErrNameRequired is returned when creating a session without a patient name.
	ErrNameRequired = errors.New("patient name is required")

	// ErrInvalidStatus is returned for status values outside active, completed, archived.
	ErrInvalidStatus = errors.New("invalid session status")

	// ErrEmptyTranscript is returned when appending a transcription with no text.
	ErrEmptyTranscript = errors.New("transcript is empty")
)

// Result reports the user's current session after an operation that may
// have moved it.
type Result struct {
	CurrentSessionID string
	Session          *model.PatientSession
	CreatedNew       bool // A placeholder session was created to fill the pointer
}

// CreateInput holds the fields accepted when creating a session.
type CreateInput struct {
	PatientName string
	TemplateID  string
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	PatientName *string
	TemplateID  *string
	Status      *model.SessionStatus
	Notes       *string
}

// Notifier is told whenever a user's current session changes.
type Notifier interface {
	CurrentChanged(ctx context.Context, userID string, current *model.PatientSession)
}

// Options configures a Service.
type Options struct {
	TTL             time.Duration // Lifetime of new sessions
	PlaceholderName string        // Name given to auto-created sessions
	Notifier        Notifier      // Optional
	Logger          *slog.Logger
}

// Service owns patient sessions and keeps each user's current-session
// pointer on an eligible session.
type Service struct {
	repo        Repository
	ttl         time.Duration
	placeholder string
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a session service over repo.
func NewService(repo Repository, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.PlaceholderName == "" {
		opts.PlaceholderName = "New Patient"
	}
	return &Service{
		repo:        repo,
		ttl:         opts.TTL,
		placeholder: opts.PlaceholderName,
		notifier:    opts.Notifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a session for userID and makes it current.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*model.PatientSession, error) {
	name := strings.TrimSpace(in.PatientName)
	if name == "" {
		return nil, ErrNameRequired
	}

	session, err := s.create(ctx, userID, name, in.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := s.setCurrent(ctx, userID, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns one live session.
func (s *Service) Get(ctx context.Context, userID, id string) (*model.PatientSession, error) {
	return s.repo.Get(ctx, userID, id)
}

// List returns live sessions, newest first.
func (s *Service) List(ctx context.Context, userID string, filter ListFilter) ([]*model.PatientSession, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	return s.repo.List(ctx, userID, filter)
}

// Update applies patch. Moving to completed stamps CompletedAt.
func (s *Service) Update(ctx context.Context, userID, id string, patch Patch) (*model.PatientSession, error) {
	session, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if patch.PatientName != nil {
		name := strings.TrimSpace(*patch.PatientName)
		if name == "" {
			return nil, ErrNameRequired
		}
		session.PatientName = name
	}
	if patch.TemplateID != nil {
		session.TemplateID = *patch.TemplateID
	}
	if patch.Notes != nil {
		session.Notes = *patch.Notes
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, ErrInvalidStatus
		}
		if *patch.Status == model.StatusCompleted && session.Status != model.StatusCompleted {
			session.CompletedAt = &now
		}
		session.Status = *patch.Status
	}
	session.UpdatedAt = now

	if err := s.repo.Update(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Delete soft-deletes one session. When it was the current session the
// pointer falls back to the newest eligible session, or to a new placeholder.
func (s *Service) Delete(ctx context.Context, userID, id string) (Result, error) {
	currentID, err := s.repo.CurrentID(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if err := s.repo.SoftDelete(ctx, userID, id, s.now()); err != nil {
		return Result{}, err
	}

	if currentID != "" && currentID != id {
		return Result{CurrentSessionID: currentID}, nil
	}

	s.logger.Debug("current session deleted, selecting fallback", "user_id", userID, "session_id", id)
	return s.fallback(ctx, userID)
}

// DeleteAll soft-deletes every session of userID and starts a fresh
// placeholder session as current.
func (s *Service) DeleteAll(ctx context.Context, userID string) (Result, error) {
	n, err := s.repo.SoftDeleteAll(ctx, userID, s.now())
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("deleted all sessions", "user_id", userID, "count", n)

	session, err := s.create(ctx, userID, s.placeholder, "")
	if err != nil {
		return Result{}, err
	}
	if err := s.setCurrent(ctx, userID, session); err != nil {
		return Result{}, err
	}
	return Result{CurrentSessionID: session.ID, Session: session, CreatedNew: true}, nil
}

// Current returns the user's current session, repairing the pointer when it
// is unset or names a deleted or expired session. Calling it again without
// intervening writes returns the same session.
func (s *Service) Current(ctx context.Context, userID string) (Result, error) {
	currentID, err := s.repo.CurrentID(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	if currentID != "" {
		session, err := s.repo.Get(ctx, userID, currentID)
		switch {
		case err == nil && session.Eligible(s.now()):
			return Result{CurrentSessionID: session.ID, Session: session}, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			return Result{}, err
		}
	}

	return s.fallback(ctx, userID)
}

// SetCurrent points the user at an existing eligible session.
func (s *Service) SetCurrent(ctx context.Context, userID, id string) (*model.PatientSession, error) {
	session, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !session.Eligible(s.now()) {
		return nil, fmt.Errorf("session %s expired: %w", id, ErrNotFound)
	}
	if err := s.setCurrent(ctx, userID, session); err != nil {
		return nil, err
	}
	return session, nil
}

// AppendTranscription records t on session id, or on the current session
// when id is empty.
func (s *Service) AppendTranscription(ctx context.Context, userID, id string, t model.Transcription) (Result, error) {
	if strings.TrimSpace(t.Transcript) == "" {
		return Result{}, ErrEmptyTranscript
	}
	if t.ReceivedAt.IsZero() {
		t.ReceivedAt = s.now()
	}

	res := Result{CurrentSessionID: id}
	if id == "" {
		current, err := s.Current(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		res = current
		id = current.CurrentSessionID
	}

	if err := s.repo.AppendTranscription(ctx, userID, id, t, s.now()); err != nil {
		return Result{}, err
	}

	session, err := s.repo.Get(ctx, userID, id)
	if err != nil {
		return Result{}, err
	}
	res.Session = session
	return res, nil
}

// fallback selects the newest eligible session or creates a placeholder,
// then stores it as current.
func (s *Service) fallback(ctx context.Context, userID string) (Result, error) {
	now := s.now()
	candidates, err := s.repo.List(ctx, userID, ListFilter{EligibleAt: now})
	if err != nil {
		return Result{}, err
	}

	res := Result{}
	session := SelectCurrent(candidates, now)
	if session == nil {
		session, err = s.create(ctx, userID, s.placeholder, "")
		if err != nil {
			return Result{}, err
		}
		res.CreatedNew = true
	}

	if err := s.setCurrent(ctx, userID, session); err != nil {
		return Result{}, err
	}
	res.CurrentSessionID = session.ID
	res.Session = session
	return res, nil
}

func (s *Service) create(ctx context.Context, userID, name, templateID string) (*model.PatientSession, error) {
	now := s.now()
	session := &model.PatientSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		PatientName:    name,
		TemplateID:     templateID,
		Status:         model.StatusActive,
		Transcriptions: []model.Transcription{},
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logger.Debug("created session", "user_id", userID, "session_id", session.ID)
	return session, nil
}

func (s *Service) setCurrent(ctx context.Context, userID string, session *model.PatientSession) error {
	if err := s.repo.SetCurrent(ctx, userID, session.ID); err != nil {
		return err
	}
	if s.notifier != nil {
		s.notifier.CurrentChanged(ctx, userID, session)
	}
	return nil
}
