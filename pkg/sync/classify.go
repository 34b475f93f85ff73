package sync

import (
	"path/filepath"
	"strings"
)

// Classifier decides whether a path should be hardlinked into a mirror.
// Exclusion is wholesale: a file under an excluded directory name never
// qualifies, regardless of nesting depth, and neither does a file with
// an excluded extension.
type Classifier struct {
	excludedDirs map[string]bool
	excludedExts map[string]bool
}

// NewClassifier builds a Classifier from directory names and extensions.
// Both are matched case-insensitively; extensions may be given with or
// without the leading dot.
func NewClassifier(excludedDirs, excludedExts []string) Classifier {
	c := Classifier{
		excludedDirs: map[string]bool{},
		excludedExts: map[string]bool{},
	}
	for _, dir := range excludedDirs {
		c.excludedDirs[strings.ToLower(dir)] = true
	}
	for _, ext := range excludedExts {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.excludedExts[ext] = true
	}
	return c
}

// Qualifies reports whether the file at relPath (relative to its source
// root) should be mirrored.
func (c Classifier) Qualifies(relPath string) bool {
	if c.excludedExts[strings.ToLower(filepath.Ext(relPath))] {
		return false
	}

	dir := filepath.Dir(relPath)
	for dir != "." && dir != string(filepath.Separator) {
		if c.excludedDirs[strings.ToLower(filepath.Base(dir))] {
			return false
		}
		dir = filepath.Dir(dir)
	}
	return true
}

// ExcludesDir reports whether the directory name itself is excluded,
// letting tree walks skip the whole subtree.
func (c Classifier) ExcludesDir(name string) bool {
	return c.excludedDirs[strings.ToLower(name)]
}
