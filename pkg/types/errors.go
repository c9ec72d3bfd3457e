package types

import "errors"

// Domain errors for validation and lookup
var (
	// Entry validation errors
	ErrInvalidCategory = errors.New("invalid category")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrEmptyTitle      = errors.New("title cannot be empty")
	ErrEntryArchived   = errors.New("entry is archived")

	// Lookup errors
	ErrNotFound = errors.New("not found")

	// Relation errors
	ErrSelfRelation = errors.New("entry cannot relate to itself")

	// Inbox errors
	ErrInvalidInboxStatus = errors.New("invalid inbox status")
)
