// Package storage is the object storage capability used by the reconciler:
// upload, download and delete of whole objects addressed by name.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
)

// ObjectStore stores immutable, named objects. Uploading under an existing
// name overwrites it.
type ObjectStore interface {
	// Upload stores data under name and returns its checksum.
	Upload(ctx context.Context, name string, data []byte) (string, error)
	// Download returns the object, or common.ErrorNotFound.
	Download(ctx context.Context, name string) ([]byte, error)
	// Delete removes the object. A missing object yields common.ErrorNotFound
	// where the backend can tell.
	Delete(ctx context.Context, name string) error
}

// ObjectName is the storage key of one version of a file. Including the
// device keeps versions written by different devices apart.
func ObjectName(fileID, deviceID string, version int64) string {
	return fmt.Sprintf("%s.%s.%d", fileID, deviceID, version)
}

// Checksum is the hex md5 of data, the same value S3 reports as ETag for
// single part uploads.
func Checksum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
