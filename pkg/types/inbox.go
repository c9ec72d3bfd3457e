package types

import (
	"strings"
	"time"
)

// InboxStatus is the lifecycle state of a captured inbox item.
type InboxStatus string

const (
	InboxProcessed   InboxStatus = "processed"
	InboxNeedsReview InboxStatus = "needs_review"
	InboxFixed       InboxStatus = "fixed"
	InboxIgnored     InboxStatus = "ignored"
)

// ParseInboxStatus validates a raw inbox status string.
func ParseInboxStatus(s string) (InboxStatus, error) {
	st := InboxStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case InboxProcessed, InboxNeedsReview, InboxFixed, InboxIgnored:
		return st, nil
	}
	return "", ErrInvalidInboxStatus
}

// InboxLogEntry is an append-only audit record of a capture/classification
// event. Created once; only Status is ever mutated afterward.
type InboxLogEntry struct {
	ID         string
	RawText    string
	Category   Category
	Confidence float64
	EntryID    string // Destination entry, empty when none was created
	Status     InboxStatus
	CreatedAt  time.Time
}
