//go:build windows

package sync

import (
	"path/filepath"
	"strings"
)

// On Windows the volume is identified by the drive prefix. Hardlinks
// work within one NTFS volume only, same as on unix filesystems.
func realVolumeID(path string) (uint64, error) {
	volume := strings.ToLower(filepath.VolumeName(path))
	var id uint64
	for _, r := range volume {
		id = id*31 + uint64(r)
	}
	return id, nil
}
