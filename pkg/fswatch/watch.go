// Package fswatch turns filesystem activity in mirror source trees into
// a coalesced "something changed" signal, so a watch loop can resync
// without polling.
package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

var fs = afero.NewOsFs()

// Watch watches the given source roots for changes to files that would
// be mirrored. It sends an event on the returned channel whenever such
// a file changes. Bursts of events are coalesced into a single send.
//
// The underlying watcher doesn't pick up directories created after the
// call, so callers that sync on each event should rebuild the watcher
// periodically.
func Watch(roots []string, classifier sync.Classifier) (chan struct{}, error) {
	pathsToWatch, err := getPathsToWatch(roots, classifier)
	if err != nil {
		return nil, errors.WithContext(err, "get paths")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.WithContext(err, "create watcher")
	}

	for _, path := range pathsToWatch {
		if err := watcher.Add(path); err != nil {
			// Close the watcher so that we release the file handles for
			// the previously added paths.
			if err := watcher.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}

			return nil, errors.WithContext(err, fmt.Sprintf("watch %q", path))
		}
	}
	return combineUpdates(watcher.Events, roots, classifier), nil
}

func combineUpdates(updates <-chan fsnotify.Event, roots []string,
	classifier sync.Classifier) chan struct{} {

	combined := make(chan struct{}, 1)
	go func() {
		for event := range updates {
			if !qualifiesEvent(event.Name, roots, classifier) {
				continue
			}
			select {
			case combined <- struct{}{}:
			default:
			}
		}
	}()
	return combined
}

// qualifiesEvent normalizes the event path to be relative to the watch
// root containing it before classifying, since exclusion rules apply
// within a source tree. An excluded name in the path above the root must
// not suppress events for files inside it.
func qualifiesEvent(path string, roots []string, classifier sync.Classifier) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." ||
			strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		return classifier.Qualifies(rel)
	}

	// Not under any watched root. Let the event through; the resulting
	// sync is just a no-op.
	return true
}

func getPathsToWatch(roots []string, classifier sync.Classifier) (paths []string, err error) {
	for _, root := range roots {
		fi, err := fs.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errors.FileNotFound{Path: root}
			}
			return nil, errors.WithContext(err, "stat")
		}
		if !fi.Mode().IsDir() {
			return nil, errors.NewValidationError(
				"source path %q is not a directory", root)
		}

		paths = append(paths, root)

		// fsnotify doesn't watch directories recursively, so we walk
		// the tree and add every subdirectory and mirrored file.
		subpaths, err := getChildren(root, classifier)
		if err != nil {
			return nil, errors.WithContext(err, "get subdirs")
		}
		paths = append(paths, subpaths...)
	}

	return paths, nil
}

func getChildren(root string, classifier sync.Classifier) (paths []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}

		if path == root {
			return nil
		}

		if fi.IsDir() {
			if classifier.ExcludesDir(fi.Name()) {
				return filepath.SkipDir
			}
			paths = append(paths, path)
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			// This shouldn't happen because path is always under root.
			return errors.WithContext(err, "normalized path")
		}
		if classifier.Qualifies(relPath) {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}
