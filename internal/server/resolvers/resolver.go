// Package resolvers holds the change resolvers that fold queued mutations
// into the next stored version of a file, and the registry they are looked
// up in by name.
package resolvers

import (
	"context"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
)

// Result describes the version a resolver wrote.
type Result struct {
	Version  int64
	Checksum string
	Size     int64
	// MimeType is set when a whole new version replaced the content.
	MimeType string
	// Consumed names staged objects that may be deleted once the new
	// version is committed.
	Consumed []string
}

// Resolver merges mutations, in queue order, into a new version of a file.
type Resolver interface {
	Name() string
	Apply(ctx context.Context, currentVersion int64, mutations []*models.Mutation, obj storage.FileObject) (Result, error)
}
