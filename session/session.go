// Package session holds the in-memory cookie session for one portal client.
// A Store is owned by exactly one client instance and is not synchronized.
package session

import (
	"time"

	"sii-extractor/internal/types"
)

// Store keeps the session cookies, the taxpayer identity they belong to, and
// their expiry. It performs no I/O.
type Store struct {
	taxID     string
	cookies   []types.Cookie
	expiresAt time.Time
	now       func() time.Time
}

// NewStore creates an empty store for the given taxpayer.
func NewStore(taxID string) *Store {
	return &Store{taxID: taxID, now: time.Now}
}

// NewStoreWithClock creates a store with an injectable clock for tests.
func NewStoreWithClock(taxID string, now func() time.Time) *Store {
	return &Store{taxID: taxID, now: now}
}

// TaxID returns the taxpayer identifier this session belongs to.
func (s *Store) TaxID() string { return s.taxID }

// ActiveCookies returns a copy of the cookies when the session is valid, nil
// otherwise.
func (s *Store) ActiveCookies() []types.Cookie {
	if !s.Valid() {
		return nil
	}
	return types.CloneCookies(s.cookies)
}

// Save overwrites the stored cookies and computes a new expiry from the TTL.
func (s *Store) Save(cookies []types.Cookie, ttl time.Duration) {
	s.cookies = types.CloneCookies(cookies)
	s.expiresAt = s.now().Add(ttl)
}

// Invalidate clears the session entirely.
func (s *Store) Invalidate() {
	s.cookies = nil
	s.expiresAt = time.Time{}
}

// Valid reports whether the store holds cookies that have not expired.
func (s *Store) Valid() bool {
	return len(s.cookies) > 0 && s.now().Before(s.expiresAt)
}

// ExpiresAt returns the current expiry timestamp, zero when no session is
// held.
func (s *Store) ExpiresAt() time.Time { return s.expiresAt }
