package models

import "time"

// WorkStatus is the state of a DeferredWork row.
type WorkStatus string

const (
	StatusPendingChange   WorkStatus = "pending-change"
	StatusPendingDeletion WorkStatus = "pending-deletion"
	StatusCompleted       WorkStatus = "completed"
	StatusError           WorkStatus = "error"
)

// DeferredWork is a unit of outstanding reconciliation work.
//
// With a FileGroupID the item stands for the whole file group. A
// pending-deletion item with a file group has no mutations; without one it
// owns exactly one FileDeletion mutation.
type DeferredWork struct {
	ID             int64
	UserID         string
	SharingGroupID string
	FileGroupID    string
	Status         WorkStatus
	// CompletedAt is set once Status is terminal.
	CompletedAt *time.Time
}

// HasFileGroup reports whether the item is scoped to a file group.
func (d *DeferredWork) HasFileGroup() bool {
	return d.FileGroupID != ""
}
