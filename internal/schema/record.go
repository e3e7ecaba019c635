package schema

import (
	"path"
	"path/filepath"
	"strings"
)

// Kind is the type of a [Record].
type Kind int

const (
	// KindFile is a regular file.
	KindFile Kind = iota

	// KindDirectory is a directory.
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Record is a single element of an [Inventory]. Its Path is relative to the
// root of the scanned tree, with segments always separated by a forward
// slash, and is the identity of the [Record] within its [Inventory].
//
// Records are meant to be passed by reference (pointer) and are never
// modified once the [Inventory] holding them was built.
type Record struct {
	Path     string
	Kind     Kind
	Metadata *Metadata
}

// IsDir reports if the [Record] is a directory.
func (r *Record) IsDir() bool {
	return r.Kind == KindDirectory
}

// Segments returns the ordered path segments of the [Record].
func (r *Record) Segments() []string {
	return SplitPath(r.Path)
}

// Depth returns the number of path segments of the [Record].
func (r *Record) Depth() int {
	return PathDepth(r.Path)
}

// Size returns the size of the [Record], which is zero for directories.
func (r *Record) Size() uint64 {
	if r.IsDir() || r.Metadata == nil {
		return 0
	}

	return r.Metadata.Size
}

// ToRelPath converts a host relative path into the canonical
// slash-separated form used as [Record] identity.
func ToRelPath(hostPath string) string {
	return path.Clean(filepath.ToSlash(hostPath))
}

// HostPath joins a canonical relative path onto a host root.
func HostPath(root string, relPath string) string {
	return filepath.Join(root, filepath.FromSlash(relPath))
}

// SplitPath returns the segments of a canonical relative path.
func SplitPath(relPath string) []string {
	if relPath == "" || relPath == "." {
		return nil
	}

	return strings.Split(relPath, "/")
}

// PathDepth returns the number of segments of a canonical relative path.
func PathDepth(relPath string) int {
	if relPath == "" || relPath == "." {
		return 0
	}

	return strings.Count(relPath, "/") + 1
}

// IsWithin reports if relPath equals parent or lies below it.
func IsWithin(relPath string, parent string) bool {
	return relPath == parent || strings.HasPrefix(relPath, parent+"/")
}
