package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// InitialDocumentVersion is the first version of the persisted
// configuration document. Documents that don't specify a version default
// to this version.
const InitialDocumentVersion = "v1alpha1"

// SupportedDocumentVersion is the document version understood by the
// current binary.
const SupportedDocumentVersion = "v1alpha1"

// DefaultGhostThreshold is how long a mirror may sit without a target
// library before the reconciler treats it as a leftover of a failed
// create. A policy knob, not a structural constant.
const DefaultGhostThreshold = 30 * time.Minute

// DefaultExcludedDirectories are directory names that never qualify for
// mirroring, at any nesting depth.
var DefaultExcludedDirectories = []string{"extrafanart", ".trickplay", "backdrops"}

// DefaultExcludedExtensions are sidecar extensions that never qualify
// for mirroring. Writing metadata next to hardlinked media would corrupt
// the source, so the sidecars stay out of the mirror entirely.
var DefaultExcludedExtensions = []string{
	".nfo", ".jpg", ".jpeg", ".png", ".gif", ".webp", ".tbn",
}

// parseDocErrTemplate is shown when the persisted document fails to
// parse. The yaml library constructs errors in a way that loses context,
// so we can only pass the error message on.
const parseDocErrTemplate = "Configuration document could not be parsed. " +
	"Please review %q.\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Document is the single persisted configuration file. The Store is its
// exclusive reader and writer.
type Document struct {
	Version      string         `json:"version,omitempty"`
	Settings     Settings       `json:"settings"`
	Alternatives []Alternative  `json:"alternatives,omitempty"`
	Users        []UserLanguage `json:"users,omitempty"`
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return fmt.Sprintf("The configuration document %q is incompatible "+
		"with this version of lingomirror.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// emptyDocument returns a fresh document with the default settings.
func emptyDocument() Document {
	return Document{
		Version: SupportedDocumentVersion,
		Settings: Settings{
			ExcludedDirectories: append([]string{}, DefaultExcludedDirectories...),
			ExcludedExtensions:  append([]string{}, DefaultExcludedExtensions...),
			GhostThreshold:      DefaultGhostThreshold,
			GroupMappings:       map[string]string{},
		},
	}
}

// parseDocument reads the document at path. A missing file yields an
// empty document rather than an error so that first boot works without a
// setup step.
func parseDocument(path string) (Document, error) {
	docBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return emptyDocument(), nil
		}
		return Document{}, errors.WithContext(err, "read document")
	}

	doc := Document{Version: InitialDocumentVersion}
	if err := yaml.Unmarshal(docBytes, &doc); err != nil {
		return Document{}, errors.NewFriendlyError(parseDocErrTemplate, path, err)
	}

	if doc.Version != SupportedDocumentVersion {
		return Document{}, incompatibleVersionError{path, SupportedDocumentVersion, doc.Version}
	}

	if doc.Settings.GhostThreshold == 0 {
		doc.Settings.GhostThreshold = DefaultGhostThreshold
	}
	if doc.Settings.GroupMappings == nil {
		doc.Settings.GroupMappings = map[string]string{}
	}

	for i, alt := range doc.Alternatives {
		basePath, err := homedir.Expand(alt.BasePath)
		if err != nil {
			return Document{}, errors.WithContext(err, "expand homedir")
		}
		doc.Alternatives[i].BasePath = filepath.Clean(basePath)
	}
	return doc, nil
}

// saveDocument writes the document atomically: marshal, write to a
// sibling temp file, rename over the destination.
func saveDocument(path string, doc Document) error {
	docBytes, err := yaml.Marshal(doc)
	if err != nil {
		return errors.WithContext(err, "marshal document")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create config directory")
	}

	tmpPath := path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, docBytes, 0644); err != nil {
		return errors.WithContext(err, "write document")
	}

	if err := fs.Rename(tmpPath, path); err != nil {
		return errors.WithContext(err, "replace document")
	}
	return nil
}
