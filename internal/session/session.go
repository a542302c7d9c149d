// Package session owns the credential state for the authenticated
// principal. Exactly one Session value is live at a time; it is replaced
// atomically, never mutated field by field from concurrent paths.
package session

import "time"

// TerminalKind marks a session error from which no automatic recovery is
// attempted. A non-empty kind means the watchdog must force sign-out.
type TerminalKind string

const (
	TerminalNone           TerminalKind = ""
	TerminalRefreshExpired TerminalKind = "refresh_expired"
	TerminalAuthRejected   TerminalKind = "auth_rejected"
)

// Session holds the access/refresh credential pair and their expiries.
type Session struct {
	AccessToken   string       `json:"access_token"`
	AccessExpiry  time.Time    `json:"access_expiry"`
	RefreshToken  string       `json:"refresh_token"`
	RefreshExpiry time.Time    `json:"refresh_expiry"`
	Terminal      TerminalKind `json:"terminal,omitempty"`
}

// Authenticated reports whether any credential is present at all.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" || s.RefreshToken != ""
}

// AccessExpired reports whether the access credential is past its expiry.
func (s Session) AccessExpired(now time.Time) bool {
	return s.AccessToken == "" || !now.Before(s.AccessExpiry)
}

// RefreshExpired reports whether the refresh credential is past its expiry.
func (s Session) RefreshExpired(now time.Time) bool {
	return s.RefreshToken == "" || !now.Before(s.RefreshExpiry)
}
