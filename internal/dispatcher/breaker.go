package dispatcher

import (
	"sync"
	"time"
)

type state int

const (
	closed state = iota
	open
	halfOpen
)

func (s state) String() string {
	switch s {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breaker trips after failThreshold consecutive failures and lets a single probe
// through once openFor has elapsed.
type breaker struct {
	mu               sync.Mutex
	st               state
	consecutiveFails int
	failThreshold    int
	openFor          time.Duration
	nextTryAt        time.Time
	probeInFlight    bool
}

func newBreaker(threshold int, openFor time.Duration) *breaker {
	return &breaker{failThreshold: threshold, openFor: openFor}
}

func (b *breaker) allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if now.After(b.nextTryAt) && !b.probeInFlight {
			b.st = halfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case halfOpen:
		if !b.probeInFlight {
			b.probeInFlight = true
			return true
		}
		return false
	default:
		return true
	}
}

func (b *breaker) record(ok bool, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.consecutiveFails = 0
		b.st = closed
		b.probeInFlight = false
		return
	}
	if b.st == halfOpen {
		b.st = open
		b.nextTryAt = now.Add(b.openFor)
		b.probeInFlight = false
		return
	}
	b.consecutiveFails++
	if b.consecutiveFails >= b.failThreshold {
		b.st = open
		b.nextTryAt = now.Add(b.openFor)
	}
}

func (b *breaker) current() state {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.st
}
