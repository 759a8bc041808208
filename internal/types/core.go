// Package types provides the shared data model for the entity resolver:
// entities fetched from the provider, typed operations, and batch results.
package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// UserID identifies the end user an operation or context belongs to
type UserID string

// Validate ensures UserID is present and of a sane length
func (u UserID) Validate() error {
	if u.IsEmpty() {
		return errors.New("user_id cannot be empty")
	}
	if len(u) > 256 {
		return fmt.Errorf("user_id must be 256 characters or less, got %d", len(u))
	}
	return nil
}

// String returns the string representation
func (u UserID) String() string {
	return string(u)
}

// IsEmpty returns true if the UserID is empty
func (u UserID) IsEmpty() bool {
	return strings.TrimSpace(string(u)) == ""
}

// EntityKind distinguishes calendar events from task-list items
type EntityKind string

const (
	// KindEvent is a calendar event
	KindEvent EntityKind = "event"
	// KindTask is a task-list item
	KindTask EntityKind = "task"
)

// Valid returns true if the kind is known
func (k EntityKind) Valid() bool {
	return k == KindEvent || k == KindTask
}

// Entity is a record owned by the external provider. The engine only holds
// transient references to entities and never persists them.
type Entity struct {
	ID      string                 `json:"id"`
	Title   string                 `json:"title"`
	Kind    EntityKind             `json:"kind"`
	Due     *time.Time             `json:"due,omitempty"`
	Status  string                 `json:"status,omitempty"`
	ListID  string                 `json:"list_id,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// DateKey returns the YYYY-MM-DD date of the entity, or "" when undated
func (e Entity) DateKey() string {
	if e.Due == nil {
		return ""
	}
	return e.Due.Format(DateLayout)
}

// TimeKey returns the HH:MM time of the entity, or "" when undated
func (e Entity) TimeKey() string {
	if e.Due == nil {
		return ""
	}
	return e.Due.Format(TimeLayout)
}

const (
	// DateLayout is the canonical date format used in payloads and contexts
	DateLayout = "2006-01-02"
	// TimeLayout is the canonical 24-hour time format
	TimeLayout = "15:04"
)

// ParseDue combines a YYYY-MM-DD date and an optional HH:MM time in loc
// (UTC when nil). An empty date yields nil.
func ParseDue(date, clock string, loc *time.Location) (*time.Time, error) {
	if date == "" {
		if clock != "" {
			return nil, fmt.Errorf("due_time %s needs a due_date", clock)
		}
		return nil, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	layout, value := DateLayout, date
	if clock != "" {
		layout, value = DateLayout+" "+TimeLayout, date+" "+clock
	}
	due, err := time.ParseInLocation(layout, value, loc)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q", value)
	}
	return &due, nil
}
