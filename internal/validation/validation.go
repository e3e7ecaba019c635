// Package validation implements the startup checks of the configured paths.
package validation

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type osProvider interface {
	EvalSymlinks(path string) (string, error)
	Stat(name string) (os.FileInfo, error)
}

// Handler is the principal implementation for the validation services.
type Handler struct {
	osHandler osProvider
}

// NewHandler returns a pointer to a new [Handler].
func NewHandler(osHandler osProvider) *Handler {
	return &Handler{
		osHandler: osHandler,
	}
}

// ValidatePaths checks the source and the replica and returns their absolute
// forms, with all symbolic links resolved. The source must be an existing directory. The replica may not exist
// yet, but must be a directory if it does. Neither may be located within the
// other.
func (v *Handler) ValidatePaths(source string, replica string) (string, string, error) {
	source, err := v.validateSource(source)
	if err != nil {
		return "", "", fmt.Errorf("(validation) %w", err)
	}

	replica, err = v.validateReplica(replica)
	if err != nil {
		return "", "", fmt.Errorf("(validation) %w", err)
	}

	if source == replica {
		return "", "", fmt.Errorf("(validation) %w: %s", ErrSamePaths, source)
	}

	if isWithin(source, replica) || isWithin(replica, source) {
		return "", "", fmt.Errorf("(validation) %w: %s <-> %s", ErrNestedPaths, source, replica)
	}

	return source, replica, nil
}

// ValidateWorkingDir checks that a working directory (such as for journal
// stashes or lock files) is not located within the source or the replica. An
// empty dir is accepted, it selects the system default.
func (v *Handler) ValidateWorkingDir(dir string, source string, replica string) error {
	if dir == "" {
		return nil
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("(validation) %w", err)
	}

	abs, err = v.resolvePath(abs)
	if err != nil {
		return fmt.Errorf("(validation) %w", err)
	}

	for _, root := range []string{source, replica} {
		if abs == root || isWithin(abs, root) {
			return fmt.Errorf("(validation) %w: %s in %s", ErrInsideTree, abs, root)
		}
	}

	return nil
}

func (v *Handler) validateSource(source string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("%w: source", ErrNoPath)
	}

	abs, err := filepath.Abs(source)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	info, err := v.osHandler.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, abs)
		}

		return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrSourceNotDir, abs)
	}

	resolved, err := v.resolvePath(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrSourceUnreadable, err)
	}

	return resolved, nil
}

func (v *Handler) validateReplica(replica string) (string, error) {
	if replica == "" {
		return "", fmt.Errorf("%w: replica", ErrNoPath)
	}

	abs, err := filepath.Abs(replica)
	if err != nil {
		return "", fmt.Errorf("failed to resolve replica: %w", err)
	}

	info, err := v.osHandler.Stat(abs)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to inspect replica: %w", err)
	}

	if err == nil && !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrReplicaNotDir, abs)
	}

	resolved, err := v.resolvePath(abs)
	if err != nil {
		return "", fmt.Errorf("failed to resolve replica: %w", err)
	}

	return resolved, nil
}

// resolvePath resolves all symbolic links of an absolute path. For a path
// not existing (yet), the links of its deepest existing parent are resolved.
func (v *Handler) resolvePath(abs string) (string, error) {
	resolved, err := v.osHandler.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	parent := filepath.Dir(abs)
	if parent == abs {
		return abs, nil
	}

	resolvedParent, err := v.resolvePath(parent)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolvedParent, filepath.Base(abs)), nil
}

// isWithin reports if the absolute path is located beneath the absolute root.
func isWithin(path string, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
