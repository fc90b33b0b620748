package pairing

import (
	"context"
	"fmt"
	"time"
)

// Countdown reports the time left on a pairing token once per interval and
// fires its expiry callback exactly once when the token expires.
type Countdown struct {
	expiresAt time.Time
	interval  time.Duration
	onTick    func(remaining time.Duration)
	onExpire  func()
	now       func() time.Time
}

// NewCountdown creates a countdown to expiresAt. Either callback may be nil.
func NewCountdown(expiresAt time.Time, onTick func(time.Duration), onExpire func()) *Countdown {
	return &Countdown{
		expiresAt: expiresAt,
		interval:  time.Second,
		onTick:    onTick,
		onExpire:  onExpire,
		now:       time.Now,
	}
}

// Run blocks until the token expires or ctx is done. It reports whether the
// token expired.
func (c *Countdown) Run(ctx context.Context) bool {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		remaining := Remaining(c.expiresAt, c.now())
		if c.onTick != nil {
			c.onTick(remaining)
		}
		if remaining == 0 {
			if c.onExpire != nil {
				c.onExpire()
			}
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Remaining returns the time left until expiresAt, never negative.
func Remaining(expiresAt, now time.Time) time.Duration {
	if d := expiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// FormatRemaining renders d for display: "1h 05m" above an hour, "04:59" below.
func FormatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	d = d.Truncate(time.Second)
	if d >= time.Hour {
		return fmt.Sprintf("%dh %02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
