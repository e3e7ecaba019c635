package filesystem

import (
	"fmt"
	"os"
	"strconv"
	"sync"
)

// osReadsProvider defines methods needed to read a filesystem of the operating
// system.
type osReadsProvider interface {
	ReadDir(name string) ([]os.DirEntry, error)
	Readlink(name string) (string, error)
}

// InUseChecker caches paths which are currently in use by another process of
// the operating system. This allows for fast checks if a given path is in use,
// without overloading the OS with syscalls. The cache is only refreshed with
// calls to [InUseChecker.Update], usually once per pass.
type InUseChecker struct {
	sync.RWMutex
	osHandler  osReadsProvider
	procPath   string
	inUsePaths map[string]struct{}
}

// NewInUseChecker returns a pointer to a new [InUseChecker], reading process
// information from the given procfs mountpoint (usually "/proc").
func NewInUseChecker(osHandler osReadsProvider, procPath string) *InUseChecker {
	return &InUseChecker{
		osHandler:  osHandler,
		procPath:   procPath,
		inUsePaths: make(map[string]struct{}),
	}
}

// IsInUse checks (the cache) if a path is currently in use by another process
// of the operating system.
func (c *InUseChecker) IsInUse(path string) bool {
	c.RLock()
	defer c.RUnlock()

	_, exists := c.inUsePaths[path]

	return exists
}

// Update queries the operating system for all in-use paths and stores them in
// the [InUseChecker] cache. Processes vanishing while being queried are
// skipped.
func (c *InUseChecker) Update() error {
	inUsePaths := make(map[string]struct{})

	procEntries, err := c.osHandler.ReadDir(c.procPath)
	if err != nil {
		return fmt.Errorf("(fs-inuse) failed to read %s: %w", c.procPath, err)
	}

	self := os.Getpid()

	for _, procEntry := range procEntries {
		pid, err := strconv.Atoi(procEntry.Name())
		if err != nil || pid == self {
			continue
		}

		fdPath := fmt.Sprintf("%s/%d/fd", c.procPath, pid)
		fdEntries, err := c.osHandler.ReadDir(fdPath)
		if err != nil {
			continue
		}

		for _, fdEntry := range fdEntries {
			fdLink := fmt.Sprintf("%s/%s", fdPath, fdEntry.Name())

			linkTarget, err := c.osHandler.Readlink(fdLink)
			if err != nil {
				continue
			}

			inUsePaths[linkTarget] = struct{}{}
		}
	}

	c.Lock()
	c.inUsePaths = inUsePaths
	c.Unlock()

	return nil
}
