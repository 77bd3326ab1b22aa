package enums

import "fmt"

// EventStatus maps to the event_status enum in Postgres.
//
// Pending is the only non-terminal status. Duplicate and Skipped are decided
// at admission time; Sent and Failed are decided by the delivery worker.
type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusSent      EventStatus = "sent"
	EventStatusFailed    EventStatus = "failed"
	EventStatusDuplicate EventStatus = "duplicate"
	EventStatusSkipped   EventStatus = "skipped"
)

var validEventStatuses = []EventStatus{
	EventStatusPending,
	EventStatusSent,
	EventStatusFailed,
	EventStatusDuplicate,
	EventStatusSkipped,
}

// IsValid checks whether the given status matches the canonical enum.
func (s EventStatus) IsValid() bool {
	for _, candidate := range validEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status permits no further delivery attempts.
func (s EventStatus) IsTerminal() bool {
	return s.IsValid() && s != EventStatusPending
}

// ParseEventStatus converts raw strings into EventStatus.
func ParseEventStatus(value string) (EventStatus, error) {
	for _, candidate := range validEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event status %q", value)
}
