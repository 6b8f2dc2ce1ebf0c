package storage

import "context"

// FileObject is the handle a change resolver gets to the stored versions of
// one file.
type FileObject struct {
	Store    ObjectStore
	FileID   string
	DeviceID string
}

// Name returns the object name of the given version.
func (o FileObject) Name(version int64) string {
	return ObjectName(o.FileID, o.DeviceID, version)
}

func (o FileObject) Read(ctx context.Context, version int64) ([]byte, error) {
	return o.Store.Download(ctx, o.Name(version))
}

func (o FileObject) Write(ctx context.Context, version int64, data []byte) (string, error) {
	return o.Store.Upload(ctx, o.Name(version), data)
}
