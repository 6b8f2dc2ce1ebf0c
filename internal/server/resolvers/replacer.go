package resolvers

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophsync/internal/server/models"
	"github.com/dmitrijs2005/gophsync/internal/server/storage"
)

// Replacer rebuilds a whole file from its current content plus records.
type Replacer interface {
	Add(record []byte) error
	Data() ([]byte, error)
}

// ReplacerFunc creates a Replacer over the current content of a file.
type ReplacerFunc func(current []byte) (Replacer, error)

type wholeFile struct {
	name        string
	newReplacer ReplacerFunc
}

// WholeFile adapts a Replacer to the Resolver interface. The next version is
// always written in full: the latest NewVersionUpload (or the current version
// when there is none) is loaded and every later ContentChange is added to it.
// Record level mutations are ignored.
func WholeFile(name string, newReplacer ReplacerFunc) Resolver {
	return &wholeFile{name: name, newReplacer: newReplacer}
}

func (w *wholeFile) Name() string {
	return w.name
}

func (w *wholeFile) Apply(ctx context.Context, currentVersion int64, mutations []*models.Mutation, obj storage.FileObject) (Result, error) {
	var (
		res     Result
		base    []byte
		start   int
		fromNew bool
	)

	for i := len(mutations) - 1; i >= 0; i-- {
		upload, ok := mutations[i].Change.(models.NewVersionUpload)
		if !ok {
			continue
		}
		data, err := w.uploaded(ctx, upload, obj)
		if err != nil {
			return Result{}, err
		}
		base, start, fromNew = data, i+1, true
		res.MimeType = upload.MimeType
		break
	}
	for _, m := range mutations {
		if upload, ok := m.Change.(models.NewVersionUpload); ok && upload.StagedObject != "" {
			res.Consumed = append(res.Consumed, upload.StagedObject)
		}
	}

	if !fromNew {
		data, err := obj.Read(ctx, currentVersion)
		if err != nil {
			return Result{}, fmt.Errorf("read version %d: %w", currentVersion, err)
		}
		base = data
	}

	replacer, err := w.newReplacer(base)
	if err != nil {
		return Result{}, fmt.Errorf("%s: load content: %w", w.name, err)
	}
	for _, m := range mutations[start:] {
		change, ok := m.Change.(models.ContentChange)
		if !ok {
			continue
		}
		if err := replacer.Add(change.Contents); err != nil {
			return Result{}, fmt.Errorf("%s: apply mutation %d: %w", w.name, m.ID, err)
		}
	}
	data, err := replacer.Data()
	if err != nil {
		return Result{}, fmt.Errorf("%s: encode content: %w", w.name, err)
	}

	res.Version = currentVersion + 1
	res.Checksum, err = obj.Write(ctx, res.Version, data)
	if err != nil {
		return Result{}, fmt.Errorf("write version %d: %w", res.Version, err)
	}
	res.Size = int64(len(data))
	return res, nil
}

func (w *wholeFile) uploaded(ctx context.Context, upload models.NewVersionUpload, obj storage.FileObject) ([]byte, error) {
	if upload.StagedObject == "" {
		return upload.Contents, nil
	}
	data, err := obj.Store.Download(ctx, upload.StagedObject)
	if err != nil {
		return nil, fmt.Errorf("read staged object %s: %w", upload.StagedObject, err)
	}
	return data, nil
}
