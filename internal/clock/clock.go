// Package clock lets services read the current time through an interface so
// hold expiry and credential windows can be driven deterministically in tests.
package clock

import (
	"sync"
	"time"
)

// Clock allows injecting time in services.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// NewSystem returns a clock backed by time.Now in UTC.
func NewSystem() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// Fake is a manually driven clock. The zero value is not usable; build one
// with NewFake.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock frozen at t.
func NewFake(t time.Time) *Fake {
	return &Fake{now: t.UTC()}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set jumps the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t.UTC()
	f.mu.Unlock()
}

// ExpiresAt returns the instant ttl after now.
func ExpiresAt(c Clock, ttl time.Duration) time.Time {
	return c.Now().Add(ttl)
}

// Remaining returns the whole seconds left until expiresAt, never negative.
func Remaining(c Clock, expiresAt time.Time) int64 {
	d := expiresAt.Sub(c.Now())
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
