//go:build !windows

package sync

import (
	"os"
	"syscall"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

func realVolumeID(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, errors.New("no stat information for " + path)
	}
	return uint64(stat.Dev), nil
}
