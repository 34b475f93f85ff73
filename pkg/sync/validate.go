package sync

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// volumeID reports which storage volume a path lives on. Swapped out in
// unit tests, where every path shares one in-memory volume.
var volumeID = realVolumeID

// ValidateTarget is the prerequisite gate for accepting a new mirror
// target. It rejects, with no side effects: empty or relative paths,
// path traversal, targets nested in a source path (or the reverse),
// non-empty pre-existing targets, and targets on a different storage
// volume than any source path. Hardlinks require source and target to
// share a volume, so cross-volume is a hard failure, not a warning.
func ValidateTarget(targetPath string, sourcePaths []string) error {
	if strings.TrimSpace(targetPath) == "" {
		return errors.NewValidationError("target path is required")
	}
	if !filepath.IsAbs(targetPath) {
		return errors.NewValidationError("target path %q must be absolute", targetPath)
	}
	for _, part := range strings.Split(targetPath, string(filepath.Separator)) {
		if part == ".." {
			return errors.NewValidationError(
				"target path %q must not contain path traversal", targetPath)
		}
	}

	target := filepath.Clean(targetPath)
	for _, source := range sourcePaths {
		source = filepath.Clean(source)
		if isWithin(target, source) {
			return errors.NewValidationError(
				"target path %q is inside source path %q", target, source)
		}
		if isWithin(source, target) {
			return errors.NewValidationError(
				"source path %q is inside target path %q", source, target)
		}
	}

	if err := validateTargetEmpty(target); err != nil {
		return err
	}
	return validateSameVolume(target, sourcePaths)
}

// isWithin reports whether path is equal to, or nested inside, root.
func isWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func validateTargetEmpty(target string) error {
	fi, err := fs.Stat(target)
	if err != nil {
		// An absent target is fine; the engine creates it.
		return nil
	}
	if !fi.IsDir() {
		return errors.NewValidationError("target path %q is not a directory", target)
	}

	entries, err := afero.ReadDir(fs, target)
	if err != nil {
		return errors.WithContext(err, "read target directory")
	}
	if len(entries) > 0 {
		return errors.NewValidationError(
			"target path %q already exists and is not empty", target)
	}
	return nil
}

func validateSameVolume(target string, sourcePaths []string) error {
	targetVolume, err := volumeID(nearestExisting(target))
	if err != nil {
		return errors.WithContext(err, "resolve target volume")
	}

	for _, source := range sourcePaths {
		sourceVolume, err := volumeID(source)
		if err != nil {
			return errors.WithContext(err, "resolve source volume")
		}
		if sourceVolume != targetVolume {
			return errors.NewValidationError(
				"source path %q and target path %q are on different storage "+
					"volumes; hardlinks require a shared volume", source, target)
		}
	}
	return nil
}

// nearestExisting walks up from path until it finds a component that
// exists, so the volume of a yet-to-be-created target can be checked.
func nearestExisting(path string) string {
	for {
		if _, err := fs.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}
