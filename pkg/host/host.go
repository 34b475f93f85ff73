// Package host defines the boundary to the media server that owns the
// virtual libraries and user accounts. The core only ever talks to these
// interfaces; the concrete client lives with the plugin bootstrap.
package host

// Library is a virtual library exposed by the host: a named collection
// backed by one or more filesystem paths.
type Library struct {
	ID             string
	Name           string
	CollectionType string
	Paths          []string
	Options        LibraryOptions
}

// LibraryOptions holds the per-library metadata settings the engine
// copies from a source library onto a mirror library. The language
// fields are overridden per Alternative; the saver flags are always
// forced off for mirrors because the files are shared inodes.
type LibraryOptions struct {
	PreferredMetadataLanguage string
	MetadataCountryCode       string
	SaveLocalMetadata         bool
	SaveSubtitles             bool
	SaveLyrics                bool
	EnableRealtimeMonitor     bool
	MetadataFetchers          []string
	ImageFetchers             []string
}

// User is a host account. EnabledFolders is only meaningful when
// EnableAllFolders is false.
type User struct {
	ID               string
	Name             string
	EnableAllFolders bool
	EnabledFolders   []string
}

// Libraries enumerates and mutates the host's virtual libraries.
type Libraries interface {
	// All returns every library the host currently exposes.
	All() ([]Library, error)

	// Get returns the library with the given id, or a
	// errors.NotFoundError if it doesn't exist.
	Get(id string) (Library, error)

	// Create registers a new virtual library and returns it with its
	// host-assigned id.
	Create(name, collectionType string, paths []string, opts LibraryOptions) (Library, error)

	// Remove deletes a virtual library registration. The files on disk
	// are not touched.
	Remove(id string) error

	// Refresh triggers a metadata scan of the library.
	Refresh(id string) error
}

// Users reads and writes host accounts.
type Users interface {
	// Get returns the user with the given id, or a errors.NotFoundError.
	Get(id string) (User, error)

	// All returns every user known to the host.
	All() ([]User, error)

	// SetAccess persists the user's all-folders flag and explicit
	// enabled-folder list.
	SetAccess(userID string, enableAll bool, folders []string) error
}
