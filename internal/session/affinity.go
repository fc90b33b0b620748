package session

import (
	"time"

	"github.com/clinicpro/dictation-sync/internal/model"
)

// SelectCurrent picks the fallback current session from candidates: the most
// recently created session that is neither deleted nor expired at now. Ties
// on creation time resolve to the larger ID so repeated calls agree.
// It returns nil when no candidate is eligible.
func SelectCurrent(candidates []*model.PatientSession, now time.Time) *model.PatientSession {
	var best *model.PatientSession
	for _, s := range candidates {
		if s == nil || !s.Eligible(now) {
			continue
		}
		if best == nil || newer(s, best) {
			best = s
		}
	}
	return best
}

func newer(a, b *model.PatientSession) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
