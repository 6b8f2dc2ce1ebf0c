package models

import "fmt"

// MutationKind is the persisted discriminator of a Change.
type MutationKind string

const (
	KindNewVersion    MutationKind = "new-version-upload"
	KindContentChange MutationKind = "content-change"
	KindUndelete      MutationKind = "undelete"
	KindAppMetaData   MutationKind = "app-metadata-change"
	KindFileDeletion  MutationKind = "single-file-deletion"
)

// Change is the kind-specific part of a Mutation. The set of
// implementations is closed: NewVersionUpload, ContentChange, Undelete,
// AppMetaDataChange and FileDeletion.
type Change interface {
	Kind() MutationKind
	isChange()
}

// NewVersionUpload replaces the whole content of a file. The bytes are either
// inline (Contents) or were staged in object storage under StagedObject.
type NewVersionUpload struct {
	Contents     []byte
	StagedObject string
	MimeType     string
	Size         int64
}

// ContentChange is an incremental change interpreted by the file's change resolver.
type ContentChange struct {
	Contents []byte
}

// Undelete clears the deletion flag of a file.
type Undelete struct{}

// AppMetaDataChange replaces the app metadata; Version must be the current
// app metadata version plus one.
type AppMetaDataChange struct {
	AppMetaData string
	Version     int64
}

// FileDeletion requests deletion of a single file outside any file group.
type FileDeletion struct{}

func (NewVersionUpload) Kind() MutationKind  { return KindNewVersion }
func (ContentChange) Kind() MutationKind     { return KindContentChange }
func (Undelete) Kind() MutationKind          { return KindUndelete }
func (AppMetaDataChange) Kind() MutationKind { return KindAppMetaData }
func (FileDeletion) Kind() MutationKind      { return KindFileDeletion }

func (NewVersionUpload) isChange()  {}
func (ContentChange) isChange()     {}
func (Undelete) isChange()          {}
func (AppMetaDataChange) isChange() {}
func (FileDeletion) isChange()      {}

// Mutation is one staged, not yet applied change to a file.
type Mutation struct {
	ID             int64
	FileID         string
	UserID         string
	DeviceID       string
	FileGroupID    string
	SharingGroupID string
	// DeferredID references the owning DeferredWork; zero until claimed.
	DeferredID int64
	Change     Change
}

// Kind returns the kind of the mutation's change.
func (m *Mutation) Kind() MutationKind {
	if m.Change == nil {
		return ""
	}
	return m.Change.Kind()
}

// Validate checks that the fields required by the mutation's kind are present.
func (m *Mutation) Validate() error {
	if m.FileID == "" || m.UserID == "" || m.DeviceID == "" || m.SharingGroupID == "" {
		return fmt.Errorf("file, user, device and sharing group ids are required")
	}
	switch c := m.Change.(type) {
	case NewVersionUpload:
		if len(c.Contents) == 0 && c.StagedObject == "" {
			return fmt.Errorf("new version upload without contents")
		}
		if c.MimeType == "" {
			return fmt.Errorf("new version upload without mime type")
		}
	case ContentChange:
		if len(c.Contents) == 0 {
			return fmt.Errorf("content change without contents")
		}
	case AppMetaDataChange:
		if c.AppMetaData == "" || c.Version <= 0 {
			return fmt.Errorf("app metadata change requires contents and a positive version")
		}
	case Undelete, FileDeletion:
	case nil:
		return fmt.Errorf("mutation without change")
	default:
		return fmt.Errorf("unknown change %T", c)
	}
	return nil
}

// RestoresFile reports whether ms both undeletes a file and uploads a new
// version of it. Only such a batch can bring back a deleted file, since the
// deletion removed its stored content.
func RestoresFile(ms []*Mutation) bool {
	var undelete, upload bool
	for _, m := range ms {
		switch m.Change.(type) {
		case Undelete:
			undelete = true
		case NewVersionUpload:
			upload = true
		}
	}
	return undelete && upload
}
