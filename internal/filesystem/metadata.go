package filesystem

import (
	"fmt"

	"github.com/desertwitch/mirrord/internal/schema"
	"golang.org/x/sys/unix"
)

// getMetadata returns the [schema.Metadata] and [schema.Kind] of a path,
// without following a final symbolic link. Anything but regular files and
// directories returns [ErrUnsupportedEntry].
func (f *Handler) getMetadata(path string) (*schema.Metadata, schema.Kind, error) {
	var stat unix.Stat_t

	if err := f.unixHandler.Lstat(path, &stat); err != nil {
		return nil, schema.KindFile, fmt.Errorf("failed to lstat: %w", err)
	}

	metadata := &schema.Metadata{
		Perms:      uint32(stat.Mode) & 0o777, //nolint:mnd
		UID:        stat.Uid,
		GID:        stat.Gid,
		AccessedAt: stat.Atim,
		ModifiedAt: stat.Mtim,
		Size:       handleSize(stat.Size),
	}

	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		metadata.IsDir = true
		metadata.Size = 0

		return metadata, schema.KindDirectory, nil

	case unix.S_IFREG:
		return metadata, schema.KindFile, nil

	case unix.S_IFLNK:
		return nil, schema.KindFile, fmt.Errorf("%w: symbolic link", ErrUnsupportedEntry)

	default:
		return nil, schema.KindFile, fmt.Errorf("%w: special file (mode %o)", ErrUnsupportedEntry, stat.Mode&unix.S_IFMT)
	}
}
