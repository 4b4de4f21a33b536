// Package domain contains core domain types for the Cadence application.
package domain

import (
	"time"
)

// Session represents one isolated conversation and its associated
// sequence document. The ID is an opaque client-generated UUID.
type Session struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DefaultSessionName returns the timestamp-derived name given to a
// session created without an explicit name.
func DefaultSessionName(t time.Time) string {
	return "Session " + t.Format("2006-01-02 15:04")
}
