package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicpro/dictation-sync/internal/model"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
}

func (n *recordingNotifier) CurrentChanged(_ context.Context, _ string, current *model.PatientSession) {
	n.mu.Lock()
	n.changes = append(n.changes, current.ID)
	n.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *clock, *recordingNotifier) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	svc := NewService(NewMemoryRepository(), Options{
		TTL:      24 * time.Hour,
		Notifier: notifier,
	})
	svc.now = clk.Now
	return svc, clk, notifier
}

func TestService_CreateRequiresName(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), "u1", CreateInput{PatientName: "   "})
	assert.ErrorIs(t, err, ErrNameRequired)
}

func TestService_CreateBecomesCurrent(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", CreateInput{PatientName: "Jane Doe", TemplateID: "soap"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, s.Status)
	assert.Equal(t, "soap", s.TemplateID)

	res, err := svc.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, s.ID, res.CurrentSessionID)
	assert.False(t, res.CreatedNew)
	assert.Equal(t, []string{s.ID}, notifier.changes)
}

func TestService_DeleteCurrentFallsBackToNewestEligible(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "u1", CreateInput{PatientName: "A"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	b, err := svc.Create(ctx, "u1", CreateInput{PatientName: "B"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	c, err := svc.Create(ctx, "u1", CreateInput{PatientName: "C"})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.CurrentSessionID)
	assert.False(t, res.CreatedNew)

	// Deleting a non-current session leaves the pointer alone.
	res, err = svc.Delete(ctx, "u1", a.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.CurrentSessionID)
}

func TestService_DeleteLastCreatesPlaceholder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", CreateInput{PatientName: "Only"})
	require.NoError(t, err)

	res, err := svc.Delete(ctx, "u1", s.ID)
	require.NoError(t, err)
	assert.True(t, res.CreatedNew)
	assert.NotEqual(t, s.ID, res.CurrentSessionID)
	assert.Equal(t, "New Patient", res.Session.PatientName)
}

func TestService_DeleteUnknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Delete(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_DeleteAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		_, err := svc.Create(ctx, "u1", CreateInput{PatientName: name})
		require.NoError(t, err)
	}

	res, err := svc.DeleteAll(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.CreatedNew)

	list, err := svc.List(ctx, "u1", ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.CurrentSessionID, list[0].ID)
}

func TestService_CurrentSkipsExpired(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	old, err := svc.Create(ctx, "u1", CreateInput{PatientName: "Old"})
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)

	res, err := svc.Current(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.CreatedNew)
	assert.NotEqual(t, old.ID, res.CurrentSessionID)
}

func TestService_CurrentIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Current(ctx, "fresh-user")
	require.NoError(t, err)
	assert.True(t, first.CreatedNew)

	second, err := svc.Current(ctx, "fresh-user")
	require.NoError(t, err)
	assert.Equal(t, first.CurrentSessionID, second.CurrentSessionID)
	assert.False(t, second.CreatedNew)
}

func TestService_UpdateCompletedStampsTime(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", CreateInput{PatientName: "A"})
	require.NoError(t, err)

	clk.Advance(time.Hour)
	completed := model.StatusCompleted
	notes := "follow up in 2 weeks"
	updated, err := svc.Update(ctx, "u1", s.ID, Patch{Status: &completed, Notes: &notes})
	require.NoError(t, err)

	require.NotNil(t, updated.CompletedAt)
	assert.Equal(t, clk.Now(), *updated.CompletedAt)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, "A", updated.PatientName)

	bad := model.SessionStatus("paused")
	_, err = svc.Update(ctx, "u1", s.ID, Patch{Status: &bad})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestService_UpdateOtherUsersSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	s, err := svc.Create(ctx, "u1", CreateInput{PatientName: "A"})
	require.NoError(t, err)

	name := "stolen"
	_, err = svc.Update(ctx, "u2", s.ID, Patch{PatientName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_AppendTranscription(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	res, err := svc.AppendTranscription(ctx, "u1", "", model.Transcription{Transcript: "patient reports headache"})
	require.NoError(t, err)
	assert.True(t, res.CreatedNew)
	require.Len(t, res.Session.Transcriptions, 1)
	assert.Equal(t, "patient reports headache", res.Session.Transcriptions[0].Transcript)

	res, err = svc.AppendTranscription(ctx, "u1", res.CurrentSessionID, model.Transcription{Transcript: "no fever"})
	require.NoError(t, err)
	assert.Len(t, res.Session.Transcriptions, 2)

	_, err = svc.AppendTranscription(ctx, "u1", "", model.Transcription{Transcript: " "})
	assert.ErrorIs(t, err, ErrEmptyTranscript)
}

func TestService_ListFilters(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		_, err := svc.Create(ctx, "u1", CreateInput{PatientName: name})
		require.NoError(t, err)
		clk.Advance(time.Minute)
	}

	list, err := svc.List(ctx, "u1", ListFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "C", list[0].PatientName)
	assert.Equal(t, "B", list[1].PatientName)

	_, err = svc.List(ctx, "u1", ListFilter{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestService_SetCurrent(t *testing.T) {
	svc, clk, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, "u1", CreateInput{PatientName: "A"})
	require.NoError(t, err)
	clk.Advance(time.Minute)
	_, err = svc.Create(ctx, "u1", CreateInput{PatientName: "B"})
	require.NoError(t, err)

	_, err = svc.SetCurrent(ctx, "u1", a.ID)
	require.NoError(t, err)

	res, err := svc.Current(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, res.CurrentSessionID)
}
