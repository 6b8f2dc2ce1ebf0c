package storage

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/common"
)

// CredentialResolver returns the object store a user's files live in.
type CredentialResolver interface {
	ForUser(ctx context.Context, userID string) (ObjectStore, error)
}

// SharedBucketResolver keeps every user's files in one backing store, each
// under its own users/<id>/ folder.
type SharedBucketResolver struct {
	store ObjectStore
}

func NewSharedBucketResolver(store ObjectStore) *SharedBucketResolver {
	return &SharedBucketResolver{store: store}
}

func (r *SharedBucketResolver) ForUser(ctx context.Context, userID string) (ObjectStore, error) {
	if userID == "" {
		return nil, fmt.Errorf("no storage credentials for empty user: %w", common.ErrorNotFound)
	}
	return WithFolder(r.store, UserFolder(userID)), nil
}

// UserFolder is the folder holding the objects of one user.
func UserFolder(userID string) string {
	return "users/" + userID
}
