package models

import "time"

// Lock is a named, expiring mutual-exclusion row. Owner is a random token of
// the holder so a release never removes a lock someone else re-acquired.
type Lock struct {
	Name   string
	Owner  string
	Expiry time.Time
}
