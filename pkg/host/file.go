package host

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ghodss/yaml"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// fs is used for mock tests. It will be overridden by afero.NewMemMapFs()
// in the tests.
var fs = afero.NewOsFs()

// directoryDocument is the on-disk shape of a FileDirectory. The media
// server (or an operator) exports it; lingomirror reads it and writes
// back library registrations and access changes.
type directoryDocument struct {
	Libraries []Library `json:"libraries,omitempty"`
	Users     []User    `json:"users,omitempty"`
}

// FileDirectory is a host directory backed by a single yaml file. It
// implements both Libraries and Users, which makes it suitable for the
// CLI and for hosts that exchange library state through a shared file
// rather than an API.
type FileDirectory struct {
	path string

	mu  sync.Mutex
	doc directoryDocument
}

// OpenFileDirectory loads the directory file at path. A missing file is
// an empty directory.
func OpenFileDirectory(path string) (*FileDirectory, error) {
	docBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileDirectory{path: path}, nil
		}
		return nil, errors.WithContext(err, "read host directory")
	}

	var doc directoryDocument
	if err := yaml.Unmarshal(docBytes, &doc); err != nil {
		return nil, errors.NewFriendlyError(
			"The host directory file %q could not be parsed.\n"+
				"For reference, here is the error from the parser:\n%s",
			path, err)
	}
	return &FileDirectory{path: path, doc: doc}, nil
}

// save writes the directory atomically, same scheme as the
// configuration document: temp file, then rename.
func (d *FileDirectory) save() error {
	docBytes, err := yaml.Marshal(d.doc)
	if err != nil {
		return errors.WithContext(err, "marshal host directory")
	}

	if err := fs.MkdirAll(filepath.Dir(d.path), 0755); err != nil {
		return errors.WithContext(err, "create host directory dir")
	}

	tmpPath := d.path + ".tmp"
	if err := afero.WriteFile(fs, tmpPath, docBytes, 0644); err != nil {
		return errors.WithContext(err, "write host directory")
	}

	if err := fs.Rename(tmpPath, d.path); err != nil {
		return errors.WithContext(err, "replace host directory")
	}
	return nil
}

func copyLibrary(lib Library) Library {
	lib.Paths = append([]string{}, lib.Paths...)
	lib.Options.MetadataFetchers = append([]string{}, lib.Options.MetadataFetchers...)
	lib.Options.ImageFetchers = append([]string{}, lib.Options.ImageFetchers...)
	return lib
}

func (d *FileDirectory) All() ([]Library, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	libs := make([]Library, 0, len(d.doc.Libraries))
	for _, lib := range d.doc.Libraries {
		libs = append(libs, copyLibrary(lib))
	}
	return libs, nil
}

func (d *FileDirectory) Get(id string) (Library, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, lib := range d.doc.Libraries {
		if lib.ID == id {
			return copyLibrary(lib), nil
		}
	}
	return Library{}, errors.NotFoundError{Kind: "library", ID: id}
}

func (d *FileDirectory) Create(name, collectionType string, paths []string,
	opts LibraryOptions) (Library, error) {

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, lib := range d.doc.Libraries {
		if strings.EqualFold(lib.Name, name) {
			return Library{}, errors.NewValidationError(
				"a library named %q already exists", lib.Name)
		}
	}

	lib := Library{
		ID:             uuid.New().String(),
		Name:           name,
		CollectionType: collectionType,
		Paths:          append([]string{}, paths...),
		Options:        opts,
	}
	d.doc.Libraries = append(d.doc.Libraries, lib)
	if err := d.save(); err != nil {
		d.doc.Libraries = d.doc.Libraries[:len(d.doc.Libraries)-1]
		return Library{}, err
	}
	return copyLibrary(lib), nil
}

func (d *FileDirectory) Remove(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, lib := range d.doc.Libraries {
		if lib.ID != id {
			continue
		}
		backup := d.doc.Libraries
		d.doc.Libraries = append(append([]Library{}, backup[:i]...), backup[i+1:]...)
		if err := d.save(); err != nil {
			d.doc.Libraries = backup
			return err
		}
		return nil
	}
	return errors.NotFoundError{Kind: "library", ID: id}
}

// Refresh is a no-op for a file-backed directory. The host notices the
// new files on its own scan schedule.
func (d *FileDirectory) Refresh(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, lib := range d.doc.Libraries {
		if lib.ID == id {
			return nil
		}
	}
	return errors.NotFoundError{Kind: "library", ID: id}
}

func copyUser(u User) User {
	u.EnabledFolders = append([]string{}, u.EnabledFolders...)
	return u
}

func (d *FileDirectory) GetUser(id string) (User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.doc.Users {
		if u.ID == id {
			return copyUser(u), nil
		}
	}
	return User{}, errors.NotFoundError{Kind: "user", ID: id}
}

func (d *FileDirectory) AllUsers() ([]User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	users := make([]User, 0, len(d.doc.Users))
	for _, u := range d.doc.Users {
		users = append(users, copyUser(u))
	}
	return users, nil
}

func (d *FileDirectory) SetAccess(userID string, enableAll bool, folders []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, u := range d.doc.Users {
		if u.ID != userID {
			continue
		}
		backup := u
		d.doc.Users[i].EnableAllFolders = enableAll
		d.doc.Users[i].EnabledFolders = append([]string{}, folders...)
		if err := d.save(); err != nil {
			d.doc.Users[i] = backup
			return err
		}
		return nil
	}
	return errors.NotFoundError{Kind: "user", ID: userID}
}

// userView adapts a FileDirectory to the Users interface, whose Get and
// All collide with the library methods.
type userView struct {
	dir *FileDirectory
}

// Users returns the directory's user-account view.
func (d *FileDirectory) Users() Users {
	return userView{dir: d}
}

func (v userView) Get(id string) (User, error) { return v.dir.GetUser(id) }
func (v userView) All() ([]User, error)        { return v.dir.AllUsers() }
func (v userView) SetAccess(userID string, enableAll bool, folders []string) error {
	return v.dir.SetAccess(userID, enableAll, folders)
}
