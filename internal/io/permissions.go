package io

import (
	"fmt"

	"github.com/desertwitch/mirrord/internal/schema"
	"golang.org/x/sys/unix"
)

// ensurePermissions applies the permissions (and with ownership preservation
// enabled, the ownership) of the metadata to a path.
func (i *Handler) ensurePermissions(path string, metadata *schema.Metadata) error {
	if i.options.PreserveOwnership {
		if err := i.unixHandler.Chown(path, int(metadata.UID), int(metadata.GID)); err != nil {
			return fmt.Errorf("failed to set ownership on %s: %w", path, err)
		}
	}

	if err := i.unixHandler.Chmod(path, metadata.Perms); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return nil
}

// ensureTimestamps applies the access and modification times of the metadata
// to a path.
func (i *Handler) ensureTimestamps(path string, metadata *schema.Metadata) error {
	ts := []unix.Timespec{metadata.AccessedAt, metadata.ModifiedAt}
	if err := i.unixHandler.UtimesNano(path, ts); err != nil {
		return fmt.Errorf("failed to set timestamp on %s: %w", path, err)
	}

	return nil
}
