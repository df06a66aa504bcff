package entities

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrEmptySnapshot    = errors.New("snapshot contains no table files")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	ErrInvalidTag       = errors.New("invalid snapshot tag")
)

// TagError reports a snapshot tag that cannot be used safely
type TagError struct {
	Tag string
}

func (e *TagError) Error() string {
	return fmt.Sprintf("invalid snapshot tag %q: must match [A-Za-z0-9._-]{1,128}", e.Tag)
}

// Unwrap allows errors.Is(err, ErrInvalidTag)
func (e *TagError) Unwrap() error {
	return ErrInvalidTag
}
