package session

import (
	"testing"
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

func TestSelectCurrent(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	deleted := now.Add(-time.Minute)

	mk := func(id string, createdAgo, expiresIn time.Duration) *model.PatientSession {
		return &model.PatientSession{
			ID:        id,
			CreatedAt: now.Add(-createdAgo),
			ExpiresAt: now.Add(expiresIn),
		}
	}

	tests := []struct {
		name       string
		candidates []*model.PatientSession
		want       string
	}{
		{
			name:       "empty",
			candidates: nil,
			want:       "",
		},
		{
			name: "newest wins",
			candidates: []*model.PatientSession{
				mk("a", 3*time.Hour, time.Hour),
				mk("b", time.Hour, time.Hour),
				mk("c", 2*time.Hour, time.Hour),
			},
			want: "b",
		},
		{
			name: "skips expired",
			candidates: []*model.PatientSession{
				mk("old", 3*time.Hour, time.Hour),
				mk("new-expired", time.Minute, -time.Second),
			},
			want: "old",
		},
		{
			name: "skips deleted",
			candidates: []*model.PatientSession{
				mk("keep", 2*time.Hour, time.Hour),
				func() *model.PatientSession {
					s := mk("gone", time.Minute, time.Hour)
					s.DeletedAt = &deleted
					return s
				}(),
			},
			want: "keep",
		},
		{
			name: "all ineligible",
			candidates: []*model.PatientSession{
				mk("x", time.Hour, -time.Hour),
			},
			want: "",
		},
		{
			name: "tie breaks on id",
			candidates: []*model.PatientSession{
				mk("aaa", time.Hour, time.Hour),
				mk("bbb", time.Hour, time.Hour),
			},
			want: "bbb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectCurrent(tt.candidates, now)
			gotID := ""
			if got != nil {
				gotID = got.ID
			}
			if gotID != tt.want {
				t.Errorf("SelectCurrent() = %q, want %q", gotID, tt.want)
			}
		})
	}
}

func TestSelectCurrent_OrderIndependent(t *testing.T) {
	now := time.Now()
	a := &model.PatientSession{ID: "a", CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(time.Hour)}
	b := &model.PatientSession{ID: "b", CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)}

	first := SelectCurrent([]*model.PatientSession{a, b}, now)
	second := SelectCurrent([]*model.PatientSession{b, a}, now)
	if first != second {
		t.Errorf("selection depends on input order: %s vs %s", first.ID, second.ID)
	}
}
