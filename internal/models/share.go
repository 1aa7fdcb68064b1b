package models

import "time"

// ShareToken grants time-bounded read access to a document. Only TokenHash is
// persisted; Token is populated once, on issue.
type ShareToken struct {
	Token       string
	TokenHash   string
	DocumentID  string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	AccessCount int64
}

// Usable reports whether the token still resolves at now.
func (t *ShareToken) Usable(now time.Time) bool {
	return !now.After(t.ExpiresAt)
}
