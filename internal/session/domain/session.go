package domain

import "time"

// Session is the server-side record that makes a token usable. Key is derived
// from the token (see security.SessionKeyer); the token itself is never stored.
type Session struct {
	ID        string
	Key       string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time // nil while not invalidated
}

// Live reports whether the session is usable at now: not invalidated and not past its expiry.
func (s *Session) Live(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Clone returns a copy that shares no pointers with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
