package notify

import (
	"errors"
	"strings"
	"time"
)

// DefaultExpiry is the retention horizon applied when a dispatch does not
// set its own expiry.
const DefaultExpiry = 30 * 24 * time.Hour

// Priority is the closed delivery-priority set.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a member of the closed priority set.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return true
	default:
		return false
	}
}

// VisualPriority returns the presentation tier paired with p. The pairing is
// fixed so clients never have to guess how to render a priority.
func (p Priority) VisualPriority() string {
	switch p {
	case PriorityLow:
		return "muted"
	case PriorityHigh:
		return "urgent"
	default:
		return "standard"
	}
}

// ParsePriority canonicalizes a priority string; blank means normal.
func ParsePriority(s string) (Priority, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if !p.Valid() {
		return "", errors.New("unknown priority: " + s)
	}
	return p, nil
}

// Notification mirrors the care.notifications row.
type Notification struct {
	ID            string
	RecipientID   string
	RecipientRole string

	Type       string
	Title      string
	Body       string
	EntityKind string
	EntityID   string

	Priority       Priority
	VisualPriority string

	Read      bool
	ReadAt    *time.Time
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the notification is past its retention horizon.
func (n Notification) Expired(now time.Time) bool {
	return !n.ExpiresAt.After(now)
}

// DispatchInput describes a notification to deliver.
//
// RecipientRef is a domain-level reference (for example a patient record
// id); the engine resolves it to an owning identity through the configured
// RecipientResolver for RecipientRole.
type DispatchInput struct {
	RecipientRole string
	RecipientRef  string

	Type       string
	Title      string
	Body       string
	EntityKind string
	EntityID   string

	Priority  Priority
	ExpiresAt time.Time
	Now       time.Time
}
