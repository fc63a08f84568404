// Package session remembers the last submission made in each browser
// session so a page reload can be rebuilt from the cache.
package session

import (
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CookieName is the session cookie.
const CookieName = "nervis_sid"

// Defaults for NewStore.
const (
	DefaultMaxSessions = 10000
	DefaultTTL         = 24 * time.Hour
)

// Last is the most recent submission of a session.
type Last struct {
	Model     string            `json:"model"`
	Text      string            `json:"text"`
	ExtraArgs map[string]string `json:"extra_args"`
	At        time.Time         `json:"at"`
}

// Store keeps the last submission per session id. Sessions expire after
// the TTL and the least recently touched ones are dropped beyond the
// size limit.
type Store struct {
	lru *expirable.LRU[string, Last]
	ttl time.Duration
}

// NewStore returns a store holding at most maxSessions for ttl each.
func NewStore(maxSessions int, ttl time.Duration) *Store {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{lru: expirable.NewLRU[string, Last](maxSessions, nil, ttl), ttl: ttl}
}

// Record saves last for sid.
func (s *Store) Record(sid string, last Last) {
	if sid == "" {
		return
	}
	last.ExtraArgs = maps.Clone(last.ExtraArgs)
	if last.At.IsZero() {
		last.At = time.Now().UTC()
	}
	s.lru.Add(sid, last)
}

// Get returns the last submission for sid.
func (s *Store) Get(sid string) (Last, bool) {
	last, ok := s.lru.Get(sid)
	if !ok {
		return Last{}, false
	}
	last.ExtraArgs = maps.Clone(last.ExtraArgs)
	return last, true
}

// Forget drops sid.
func (s *Store) Forget(sid string) {
	s.lru.Remove(sid)
}

// Len returns the number of live sessions.
func (s *Store) Len() int { return s.lru.Len() }

// ID returns the session id carried by r, issuing a new one (and setting
// the cookie on w) when the request has none or an invalid one.
func (s *Store) ID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil {
		if _, err := uuid.Parse(c.Value); err == nil {
			return c.Value
		}
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(s.ttl / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}

// Lookup returns the session id carried by r without issuing one.
func Lookup(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}
