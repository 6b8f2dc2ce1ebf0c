// Package models defines server-side data models persisted in the database.
package models

import "time"

// FileRecord is the canonical, authoritative metadata of one file. The
// content itself lives in object storage under the name derived from
// (FileID, DeviceID, Version), see storage.ObjectName.
type FileRecord struct {
	// SharingGroupID and FileID identify the record.
	SharingGroupID string
	FileID         string
	// FileGroupID is empty when the file belongs to no file group.
	FileGroupID string
	// UserID is the owning user; object storage credentials are resolved for this user.
	UserID string
	// DeviceID produced the currently stored version.
	DeviceID string
	// Version starts at 0 and grows by exactly one per reconciliation.
	Version int64
	MimeType string
	// Checksum of the current stored content.
	Checksum string
	// ChangeResolverName is fixed at creation.
	ChangeResolverName string
	// AppMetaData is opaque application data; AppMetaDataVersion is sequential.
	AppMetaData        string
	AppMetaDataVersion int64
	Deleted            bool
	Size               int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasFileGroup reports whether the file is part of a file group.
func (f *FileRecord) HasFileGroup() bool {
	return f.FileGroupID != ""
}
