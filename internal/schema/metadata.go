package schema

import (
	"time"

	"golang.org/x/sys/unix"
)

// Metadata is the filesystem metadata recorded for an element of a tree.
type Metadata struct {
	Perms      uint32
	UID        uint32
	GID        uint32
	AccessedAt unix.Timespec
	ModifiedAt unix.Timespec
	Size       uint64
	IsDir      bool
}

// ModTime returns the modification time as a [time.Time].
func (m *Metadata) ModTime() time.Time {
	return time.Unix(m.ModifiedAt.Unix())
}

// NewerThan reports if the modification time of m exceeds that of other by
// more than the given window.
func (m *Metadata) NewerThan(other *Metadata, window time.Duration) bool {
	return m.ModTime().Sub(other.ModTime()) > window
}
