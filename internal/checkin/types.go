// Package checkin defines the contact and check-in records shared by the
// scheduling, reconciliation and feed components.
package checkin

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is the recurrence cadence of a contact.
type Frequency string

const (
	Daily     Frequency = "Daily"
	Weekly    Frequency = "Weekly"
	Monthly   Frequency = "Monthly"
	Quarterly Frequency = "Quarterly"
	Yearly    Frequency = "Yearly"
)

// ParseFrequency is case-insensitive. Unknown values are returned as-is with
// ok=false; the recurrence calculator treats them as Monthly.
func ParseFrequency(s string) (Frequency, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily":
		return Daily, true
	case "weekly":
		return Weekly, true
	case "monthly":
		return Monthly, true
	case "quarterly":
		return Quarterly, true
	case "yearly", "annually":
		return Yearly, true
	default:
		return Frequency(s), false
	}
}

// Status is the lifecycle status of a check-in.
type Status string

const (
	Scheduled Status = "Scheduled"
	Completed Status = "Completed"
	Missed    Status = "Missed"
)

func (s Status) Valid() bool {
	switch s {
	case Scheduled, Completed, Missed:
		return true
	}
	return false
}

// ParseStatus is case-insensitive.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scheduled":
		return Scheduled, nil
	case "completed":
		return Completed, nil
	case "missed":
		return Missed, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Type distinguishes user-scheduled check-ins from ones derived from a
// contact's frequency.
type Type string

const (
	Planned   Type = "planned"
	Suggested Type = "suggested"
)

func (t Type) Valid() bool { return t == Planned || t == Suggested }

type Contact struct {
	ID              string     `json:"id"`
	OwnerID         string     `json:"owner_id"`
	Name            string     `json:"name"`
	Address         string     `json:"address,omitempty"`
	Frequency       Frequency  `json:"frequency"`
	LastInteraction *time.Time `json:"last_interaction,omitempty"`
	NextDue         *time.Time `json:"next_due,omitempty"`
}

type CheckIn struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	ContactID string    `json:"contact_id"`
	Date      time.Time `json:"date"`
	Status    Status    `json:"status"`
	Type      Type      `json:"type"`
	Notes     string    `json:"notes,omitempty"`

	// Manual is set when a user explicitly chose Status. Reconciliation only
	// moves Scheduled rows, so a manual Completed or Missed is final.
	Manual bool `json:"manual,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FeedToken is an opaque credential granting read-only access to one owner's
// calendar feed.
type FeedToken struct {
	OwnerID   string    `json:"owner_id"`
	Token     string    `json:"token"`
	CreatedAt time.Time `json:"created_at"`
}
