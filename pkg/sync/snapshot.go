package sync

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// Signature is the cheap identity of a file: size plus modification
// time. Because mirrored files are hardlinks of their sources, a
// matching signature means the link still points at current content.
type Signature struct {
	Size    int64
	ModTime time.Time
}

// Equal returns whether two signatures match (i.e. whether a re-link is
// unnecessary).
func (s Signature) Equal(other Signature) bool {
	return s.Size == other.Size && s.ModTime.Equal(other.ModTime)
}

// File is one entry of a tree snapshot.
type File struct {
	// RelPath is the path relative to the snapshot root. Mirroring
	// preserves it, so it keys the diff between source and target.
	RelPath string

	// AbsPath is the path that can actually be opened or linked.
	AbsPath string

	Signature
}

// Snapshot is a signature map of a file tree, keyed by relative path.
type Snapshot map[string]File

// SnapshotTree walks root and records every regular file. When a
// classifier is given, files it rejects are skipped and excluded
// directories are skipped wholesale without descending.
func SnapshotTree(root string, classifier *Classifier) (Snapshot, error) {
	snapshot := Snapshot{}
	err := afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil || strings.HasPrefix(relPath, "..") {
			return errors.WithContext(err, "normalized path")
		}

		if fi.IsDir() {
			if path != root && classifier != nil && classifier.ExcludesDir(fi.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		if classifier != nil && !classifier.Qualifies(relPath) {
			return nil
		}

		snapshot[relPath] = File{
			RelPath:   relPath,
			AbsPath:   path,
			Signature: Signature{Size: fi.Size(), ModTime: fi.ModTime()},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// SnapshotRoots snapshots several source roots into one map. Libraries
// can have multiple paths; their relative trees are overlaid, and when
// two roots carry the same relative path the first root wins.
func SnapshotRoots(roots []string, classifier *Classifier) (Snapshot, error) {
	merged := Snapshot{}
	for _, root := range roots {
		snapshot, err := SnapshotTree(root, classifier)
		if err != nil {
			return nil, errors.WithContext(err, "snapshot "+root)
		}
		for relPath, f := range snapshot {
			if existing, ok := merged[relPath]; ok {
				log.WithFields(log.Fields{
					"path":  relPath,
					"kept":  existing.AbsPath,
					"extra": f.AbsPath,
				}).Warn("Two source roots carry the same relative path. Ignoring the latter file.")
				continue
			}
			merged[relPath] = f
		}
	}
	return merged, nil
}

// Diff returns the operations needed to make the mirror match the
// source: files absent or changed in the mirror are (re-)linked, files
// present only in the mirror are removed. Both lists are sorted so that
// progress across runs is deterministic.
func (local Snapshot) Diff(mirror Snapshot) (toLink []File, toRemove []string) {
	for _, exp := range local {
		curr, ok := mirror[exp.RelPath]
		if !ok || !curr.Signature.Equal(exp.Signature) {
			toLink = append(toLink, exp)
		}
	}
	for _, curr := range mirror {
		if _, ok := local[curr.RelPath]; !ok {
			toRemove = append(toRemove, curr.RelPath)
		}
	}

	sort.Slice(toLink, func(i, j int) bool { return toLink[i].RelPath < toLink[j].RelPath })
	sort.Strings(toRemove)
	return
}
