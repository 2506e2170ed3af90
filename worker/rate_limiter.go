package worker

import (
	"sync"
	"time"
)

// SendLimiter enforces the per-account gateway ceilings: a rolling
// per-minute window and a daily cap. Requests over a limit are deferred
// by the caller (the job stays pending), never dropped.
type SendLimiter struct {
	PerMinute int
	DailyCap  int

	mu       sync.Mutex
	accounts map[uint]*accountWindow

	now func() time.Time
}

type accountWindow struct {
	sends    []time.Time // send timestamps within the last minute, oldest first
	day      string      // YYYY-MM-DD of the daily counter
	dayCount int
}

func NewSendLimiter(perMinute, dailyCap int) *SendLimiter {
	return &SendLimiter{
		PerMinute: perMinute,
		DailyCap:  dailyCap,
		accounts:  make(map[uint]*accountWindow),
		now:       time.Now,
	}
}

// Allow consumes one send slot for the account if both the minute window
// and the daily cap permit it. The minute ceiling is rolling: every 60s
// span may contain at most perMinute sends, so a burst straddling a
// window boundary cannot exceed the cap. Per-account overrides take
// precedence over the configured defaults when non-zero.
func (l *SendLimiter) Allow(userID uint, perMinuteOverride, dailyOverride int) bool {
	perMinute := l.PerMinute
	if perMinuteOverride > 0 {
		perMinute = perMinuteOverride
	}
	dailyCap := l.DailyCap
	if dailyOverride > 0 {
		dailyCap = dailyOverride
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.accounts[userID]
	if !ok {
		w = &accountWindow{day: now.Format("2006-01-02")}
		l.accounts[userID] = w
	}

	// Drop sends that have aged out of the rolling minute
	cutoff := now.Add(-time.Minute)
	expired := 0
	for expired < len(w.sends) && !w.sends[expired].After(cutoff) {
		expired++
	}
	w.sends = w.sends[expired:]

	if today := now.Format("2006-01-02"); today != w.day {
		w.day = today
		w.dayCount = 0
	}

	if perMinute > 0 && len(w.sends) >= perMinute {
		return false
	}
	if dailyCap > 0 && w.dayCount >= dailyCap {
		return false
	}

	w.sends = append(w.sends, now)
	w.dayCount++
	return true
}
