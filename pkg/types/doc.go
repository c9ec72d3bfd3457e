// Package types provides shared type definitions for the keep knowledge store.
//
// This package defines the domain types used across components: entries,
// relations, inbox log records, and search results.
//
// # Core Types
//
// Entry is the central record: a typed, mutable row with a free-form content
// bag and an optional semantic vector:
//
//	entry := &types.Entry{
//	    Category: types.CategoryProject,
//	    Title:    "Website redesign",
//	    Status:   types.CategoryProject.DefaultStatus(),
//	    Content:  types.Content{"notes": "kickoff scheduled"},
//	}
//
// Content is an open attribute bag holding category-specific fields. Updates
// merge shallowly; keys can be overwritten or added but never removed:
//
//	merged := entry.Content.Merge(types.Content{"next_action": "send agenda"})
//
// Relation is an explicit stored link between two entries, distinct from the
// computed similarity suggestions the relation engine produces on read.
//
// InboxLogEntry is an append-only audit record written by capture flows;
// only its status field is ever mutated.
//
// # Categories and Statuses
//
// Category is a closed enum (person, project, idea, admin, reading). Status
// is a per-category vocabulary with a canonical initial value:
//
//	cat, err := types.ParseCategory("project")
//	status := cat.DefaultStatus() // "planned"
//
// Changing an entry's category is modeled as archive-old plus create-new,
// keeping Category immutable on any single entry.
package types
