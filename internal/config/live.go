package config

import (
	"sync"
	"sync/atomic"
)

// Source provides the current settings.
//
// Snapshot must be cheap and safe for concurrent use; callers take a new
// snapshot at every decision point instead of holding on to one.
type Source interface {
	Snapshot() Settings
}

// Live is a Source whose settings can be replaced at runtime.
type Live struct {
	current atomic.Pointer[Settings]
	mu      sync.Mutex // serializes Update
}

// NewLive creates a Live source. A nil settings value uses DefaultSettings.
func NewLive(settings *Settings) *Live {
	if settings == nil {
		settings = DefaultSettings()
	}
	l := &Live{}
	c := *settings
	l.current.Store(&c)
	return l
}

// Snapshot returns a copy of the current settings.
func (l *Live) Snapshot() Settings {
	return *l.current.Load()
}

// Update applies fn to a copy of the current settings and publishes the result.
func (l *Live) Update(fn func(*Settings)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := *l.current.Load()
	fn(&next)
	l.current.Store(&next)
}

// Static is a Source that always returns the same settings.
type Static Settings

// Snapshot returns the settings.
func (s Static) Snapshot() Settings {
	return Settings(s)
}
