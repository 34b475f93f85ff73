package host

import (
	"fmt"
	"sync"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// FakeLibraries is an in-memory Libraries implementation used by the
// unit tests of every package that talks to the host.
type FakeLibraries struct {
	mu     sync.Mutex
	libs   map[string]Library
	nextID int

	// CreateErr and RemoveErr, when set, are returned by the
	// corresponding mutation so tests can exercise failure paths.
	CreateErr error
	RemoveErr error

	// Refreshed records the library ids passed to Refresh, in order.
	Refreshed []string
}

// NewFakeLibraries returns an empty fake library directory.
func NewFakeLibraries() *FakeLibraries {
	return &FakeLibraries{libs: map[string]Library{}}
}

// Add seeds a library with a fixed id.
func (f *FakeLibraries) Add(lib Library) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.libs[lib.ID] = lib
}

func (f *FakeLibraries) All() ([]Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var libs []Library
	for _, lib := range f.libs {
		libs = append(libs, lib)
	}
	return libs, nil
}

func (f *FakeLibraries) Get(id string) (Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lib, ok := f.libs[id]
	if !ok {
		return Library{}, errors.NotFoundError{Kind: "library", ID: id}
	}
	return lib, nil
}

func (f *FakeLibraries) Create(name, collectionType string, paths []string,
	opts LibraryOptions) (Library, error) {

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return Library{}, f.CreateErr
	}

	f.nextID++
	lib := Library{
		ID:             fmt.Sprintf("lib-%d", f.nextID),
		Name:           name,
		CollectionType: collectionType,
		Paths:          paths,
		Options:        opts,
	}
	f.libs[lib.ID] = lib
	return lib, nil
}

func (f *FakeLibraries) Remove(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	if _, ok := f.libs[id]; !ok {
		return errors.NotFoundError{Kind: "library", ID: id}
	}
	delete(f.libs, id)
	return nil
}

func (f *FakeLibraries) Refresh(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Refreshed = append(f.Refreshed, id)
	return nil
}

// FakeUsers is an in-memory Users implementation.
type FakeUsers struct {
	mu    sync.Mutex
	users map[string]User

	// SetAccessErr, when set, is returned by SetAccess.
	SetAccessErr error

	// Applied counts SetAccess calls per user id.
	Applied map[string]int
}

// NewFakeUsers returns an empty fake user directory.
func NewFakeUsers() *FakeUsers {
	return &FakeUsers{users: map[string]User{}, Applied: map[string]int{}}
}

// Add seeds a user.
func (f *FakeUsers) Add(u User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

func (f *FakeUsers) Get(id string) (User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return User{}, errors.NotFoundError{Kind: "user", ID: id}
	}
	return u, nil
}

func (f *FakeUsers) All() ([]User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var users []User
	for _, u := range f.users {
		users = append(users, u)
	}
	return users, nil
}

func (f *FakeUsers) SetAccess(userID string, enableAll bool, folders []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.SetAccessErr != nil {
		return f.SetAccessErr
	}
	u, ok := f.users[userID]
	if !ok {
		return errors.NotFoundError{Kind: "user", ID: userID}
	}
	u.EnableAllFolders = enableAll
	u.EnabledFolders = append([]string{}, folders...)
	f.users[userID] = u
	f.Applied[userID]++
	return nil
}
