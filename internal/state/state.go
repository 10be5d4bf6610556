package state

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State is process-wide mutable state shared by the upstream client, the coordinator and the
// HTTP server.
type State struct {
	activeMu     sync.RWMutex
	activeSymbol string

	sessionOK atomic.Bool

	Tokens      *TokenCache
	Annotations *Annotations
}

func NewState(tokenTTL time.Duration) *State {
	return &State{
		Tokens:      NewTokenCache(tokenTTL),
		Annotations: NewAnnotations(),
	}
}

// SetSymbol records the last symbol a cycle ran for and returns its canonical form.
func (s *State) SetSymbol(sym string) string {
	canon := strings.ToUpper(strings.TrimSpace(sym))
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeSymbol = canon
	return canon
}

func (s *State) Symbol() string {
	s.activeMu.RLock()
	defer s.activeMu.RUnlock()
	return s.activeSymbol
}

// SetSessionOK records the outcome of the last upstream call.
func (s *State) SetSessionOK(v bool) { s.sessionOK.Store(v) }
func (s *State) SessionOK() bool     { return s.sessionOK.Load() }

// TokenCache holds the upstream anti-forgery token. The mutex only keeps reads and writes
// whole; callers that both see a miss will both refresh, which is harmless.
type TokenCache struct {
	mu      sync.Mutex
	value   string
	expires time.Time
	ttl     time.Duration
}

func NewTokenCache(ttl time.Duration) *TokenCache {
	return &TokenCache{ttl: ttl}
}

// Get returns the cached token if it has not expired at now.
func (c *TokenCache) Get(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == "" || !now.Before(c.expires) {
		return "", false
	}
	return c.value, true
}

// Set stores a fresh token that expires ttl after now.
func (c *TokenCache) Set(token string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = token
	c.expires = now.Add(c.ttl)
}

// Invalidate drops the token so the next Get misses.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = ""
	c.expires = time.Time{}
}
