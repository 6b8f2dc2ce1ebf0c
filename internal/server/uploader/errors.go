package uploader

import "fmt"

// ErrorKind classifies why an atomic unit failed.
type ErrorKind int

const (
	KindMissingRecord ErrorKind = iota + 1
	KindUnknownResolver
	KindCredentials
	KindResolver
	KindInvalidMutation
	KindStorage
	KindDatabase
)

func (k ErrorKind) String() string {
	switch k {
	case KindMissingRecord:
		return "missing record"
	case KindUnknownResolver:
		return "unknown resolver"
	case KindCredentials:
		return "credentials"
	case KindResolver:
		return "resolver"
	case KindInvalidMutation:
		return "invalid mutation"
	case KindStorage:
		return "storage"
	case KindDatabase:
		return "database"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UnitError reports the failure of one atomic unit. The unit's work stays
// pending and is retried on the next cycle.
type UnitError struct {
	Kind           ErrorKind
	SharingGroupID string
	FileGroupID    string
	FileID         string
	Err            error
}

func (e *UnitError) Error() string {
	scope := "sharing group " + e.SharingGroupID
	if e.FileGroupID != "" {
		scope += ", file group " + e.FileGroupID
	}
	if e.FileID != "" {
		scope += ", file " + e.FileID
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, scope, e.Err)
}

func (e *UnitError) Unwrap() error {
	return e.Err
}
