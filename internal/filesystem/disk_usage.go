package filesystem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// unixStatfsProvider defines Statfs methods needed for disk usage checking.
type unixStatfsProvider interface {
	Statfs(path string, buf *unix.Statfs_t) error
}

// DiskStats holds disk usage information. It is meant to be passed by value.
type DiskStats struct {
	TotalSize uint64
	FreeSpace uint64
}

// DiskUsageChecker queries the operating system for the disk usage of the
// filesystem holding a given path.
type DiskUsageChecker struct {
	unixHandler unixStatfsProvider
}

// NewDiskUsageChecker returns a pointer to a new [DiskUsageChecker].
func NewDiskUsageChecker(unixHandler unixStatfsProvider) *DiskUsageChecker {
	return &DiskUsageChecker{
		unixHandler: unixHandler,
	}
}

// GetDiskUsage gets the actual [DiskStats] for a given path from the OS.
func (c *DiskUsageChecker) GetDiskUsage(path string) (DiskStats, error) {
	var stat unix.Statfs_t
	if err := c.unixHandler.Statfs(path, &stat); err != nil {
		return DiskStats{}, fmt.Errorf("(fs-diskstats) failed to statfs: %w", err)
	}

	stats := DiskStats{
		TotalSize: stat.Blocks * handleSize(stat.Bsize),
		FreeSpace: stat.Bavail * handleSize(stat.Bsize),
	}

	return stats, nil
}

// HasEnoughFreeSpace is a helper method that allows checking if the
// filesystem holding a path can house a certain fileSize without its free
// space falling below a certain minFree threshold.
func (c *DiskUsageChecker) HasEnoughFreeSpace(path string, minFree uint64, fileSize uint64) (bool, error) {
	stats, err := c.GetDiskUsage(path)
	if err != nil {
		return false, fmt.Errorf("(fs-diskstats-efree) failed to get usage: %w", err)
	}

	return stats.FreeSpace > minFree+fileSize, nil
}
