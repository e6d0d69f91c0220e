package services

import (
	"context"
	"fmt"
	"time"
)

// DefaultPaymentWindow is how long a buyer has to transfer after checkout.
const DefaultPaymentWindow = 72 * time.Hour

// DeadlinePolicy derives payment deadlines.
type DeadlinePolicy struct {
	Window time.Duration
}

func (p DeadlinePolicy) window() time.Duration {
	if p.Window <= 0 {
		return DefaultPaymentWindow
	}
	return p.Window
}

// Deadline returns the instant the payment window closes.
func (p DeadlinePolicy) Deadline(createdAt time.Time) time.Time {
	return createdAt.UTC().Add(p.window())
}

// Countdown is the time left until a deadline, broken into display units.
type Countdown struct {
	Days    int  `json:"days"`
	Hours   int  `json:"hours"`
	Minutes int  `json:"minutes"`
	Seconds int  `json:"seconds"`
	Expired bool `json:"expired"`
}

// Remaining computes the countdown at now. The deadline instant itself counts as expired.
func Remaining(deadline, now time.Time) Countdown {
	left := deadline.Sub(now)
	if left <= 0 {
		return Countdown{Expired: true}
	}
	total := int64(left / time.Second)
	return Countdown{
		Days:    int(total / 86400),
		Hours:   int(total % 86400 / 3600),
		Minutes: int(total % 3600 / 60),
		Seconds: int(total % 60),
	}
}

func (c Countdown) String() string {
	return fmt.Sprintf("%dd %dh %dm %ds", c.Days, c.Hours, c.Minutes, c.Seconds)
}

// WatchCountdown emits the countdown every interval until the deadline passes or ctx ends.
// The last value sent before closing has Expired set unless ctx was cancelled first.
func WatchCountdown(ctx context.Context, deadline time.Time, clock func() time.Time, interval time.Duration) <-chan Countdown {
	if clock == nil {
		clock = time.Now
	}
	if interval <= 0 {
		interval = time.Second
	}
	out := make(chan Countdown, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			current := Remaining(deadline, clock())
			select {
			case out <- current:
			case <-ctx.Done():
				return
			}
			if current.Expired {
				return
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
