package config

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lingomirror/lingomirror/pkg/errors"
)

// Store is the single source of truth for Alternatives, Mirrors, and
// per-user language assignments. All mutations run under one store-wide
// critical section that wraps fresh lookup, precondition check, mutation
// and durable save, so read-modify-write races collapse. Readers always
// get deep copies and never hold the lock during I/O.
type Store struct {
	path  string
	clock clockwork.Clock

	mu  sync.Mutex
	doc Document
}

// NewStore loads (or initializes) the document at path and returns a
// Store over it.
func NewStore(path string, clock clockwork.Clock) (*Store, error) {
	doc, err := parseDocument(path)
	if err != nil {
		return nil, errors.WithContext(err, "load configuration")
	}
	return &Store{path: path, clock: clock, doc: doc}, nil
}

// Copy returns a deep copy of the document.
func (doc Document) Copy() Document {
	docCopy := doc
	docCopy.Settings = doc.Settings.Copy()
	docCopy.Alternatives = make([]Alternative, len(doc.Alternatives))
	for i, alt := range doc.Alternatives {
		docCopy.Alternatives[i] = alt.Copy()
	}
	docCopy.Users = append([]UserLanguage{}, doc.Users...)
	return docCopy
}

// mutate applies a transformation to the canonical document and persists
// it. If either the transformation or the save fails, the in-memory
// state is rolled back so it never diverges from disk.
func (s *Store) mutate(apply func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	backup := s.doc.Copy()
	if err := apply(&s.doc); err != nil {
		s.doc = backup
		return err
	}
	if err := saveDocument(s.path, s.doc); err != nil {
		s.doc = backup
		return errors.WithContext(err, "save configuration")
	}
	return nil
}

func findAlternative(doc *Document, id string) *Alternative {
	for i := range doc.Alternatives {
		if doc.Alternatives[i].ID == id {
			return &doc.Alternatives[i]
		}
	}
	return nil
}

// Alternatives returns deep copies of every Alternative.
func (s *Store) Alternatives() []Alternative {
	s.mu.Lock()
	defer s.mu.Unlock()

	alts := make([]Alternative, len(s.doc.Alternatives))
	for i, alt := range s.doc.Alternatives {
		alts[i] = alt.Copy()
	}
	return alts
}

// Alternative returns a deep copy of the Alternative with the given id.
func (s *Store) Alternative(id string) (Alternative, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if alt := findAlternative(&s.doc, id); alt != nil {
		return alt.Copy(), true
	}
	return Alternative{}, false
}

// AddAlternative inserts a new Alternative, minting its id and
// timestamps. Names must be unique case-insensitively.
func (s *Store) AddAlternative(alt Alternative) (Alternative, error) {
	alt.ID = uuid.New().String()
	alt.CreatedAt = s.clock.Now().UTC()
	alt.UpdatedAt = alt.CreatedAt
	alt.Mirrors = nil

	err := s.mutate(func(doc *Document) error {
		for _, existing := range doc.Alternatives {
			if strings.EqualFold(existing.Name, alt.Name) {
				return errors.NewValidationError(
					"an alternative named %q already exists", existing.Name)
			}
		}
		doc.Alternatives = append(doc.Alternatives, alt)
		return nil
	})
	if err != nil {
		return Alternative{}, err
	}
	return alt, nil
}

// UpdateAlternative re-fetches the canonical record and applies the
// transformation to it, so the transformation never sees a stale copy.
// The id, creation time and mirror list cannot be changed this way.
func (s *Store) UpdateAlternative(id string, transform func(*Alternative) error) error {
	return s.mutate(func(doc *Document) error {
		alt := findAlternative(doc, id)
		if alt == nil {
			return errors.NotFoundError{Kind: "alternative", ID: id}
		}

		updated := alt.Copy()
		if err := transform(&updated); err != nil {
			return err
		}

		for _, existing := range doc.Alternatives {
			if existing.ID != id && strings.EqualFold(existing.Name, updated.Name) {
				return errors.NewValidationError(
					"an alternative named %q already exists", existing.Name)
			}
		}

		updated.ID = alt.ID
		updated.CreatedAt = alt.CreatedAt
		updated.Mirrors = alt.Mirrors
		updated.UpdatedAt = s.clock.Now().UTC()
		*alt = updated
		return nil
	})
}

// RemoveAlternative removes the Alternative unconditionally, along with
// any settings records that referenced it.
func (s *Store) RemoveAlternative(id string) error {
	return s.mutate(func(doc *Document) error {
		if findAlternative(doc, id) == nil {
			return errors.NotFoundError{Kind: "alternative", ID: id}
		}
		removeAlternative(doc, id)
		return nil
	})
}

// TryRemoveAlternative removes the Alternative only if its live mirror
// set hasn't grown beyond expectedMirrorIDs. Callers delete the mirrors
// outside the lock first (that part is slow), then call this with the
// mirror-id set they observed at start; if a concurrent request added a
// mirror in between, removal is refused with a ConflictError naming the
// new ids rather than silently losing them.
func (s *Store) TryRemoveAlternative(id string, expectedMirrorIDs []string) error {
	expected := map[string]bool{}
	for _, mirrorID := range expectedMirrorIDs {
		expected[mirrorID] = true
	}

	return s.mutate(func(doc *Document) error {
		alt := findAlternative(doc, id)
		if alt == nil {
			return errors.NotFoundError{Kind: "alternative", ID: id}
		}

		var newIDs []string
		for _, m := range alt.Mirrors {
			if !expected[m.ID] {
				newIDs = append(newIDs, m.ID)
			}
		}
		if len(newIDs) > 0 {
			sort.Strings(newIDs)
			return errors.ConflictError{AlternativeID: id, NewMirrorIDs: newIDs}
		}

		removeAlternative(doc, id)
		return nil
	})
}

// removeAlternative drops the record and clears every other record that
// referenced it: the default-language pointer and group mappings.
func removeAlternative(doc *Document, id string) {
	alts := doc.Alternatives[:0]
	for _, alt := range doc.Alternatives {
		if alt.ID != id {
			alts = append(alts, alt)
		}
	}
	doc.Alternatives = alts

	if doc.Settings.DefaultAlternativeID == id {
		doc.Settings.DefaultAlternativeID = ""
	}
	for group, altID := range doc.Settings.GroupMappings {
		if altID == id {
			delete(doc.Settings.GroupMappings, group)
		}
	}
}

// Mirror returns a deep copy of the mirror with the given id.
func (s *Store) Mirror(altID, mirrorID string) (Mirror, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alt := findAlternative(&s.doc, altID)
	if alt == nil {
		return Mirror{}, false
	}
	m, ok := alt.Mirror(mirrorID)
	if !ok {
		return Mirror{}, false
	}
	return m.Copy(), true
}

// AddMirror inserts a new mirror in the pending state. The duplicate
// check and the insert happen in the same critical section against a
// freshly read state, so two concurrent adds for the same source library
// cannot both succeed.
func (s *Store) AddMirror(altID string, m Mirror) (Mirror, error) {
	m.ID = uuid.New().String()
	m.Status = StatusPending
	m.TargetLibraryID = ""
	m.LastSyncedAt = nil
	m.LastFileCount = 0
	m.LastError = ""

	err := s.mutate(func(doc *Document) error {
		alt := findAlternative(doc, altID)
		if alt == nil {
			return errors.NotFoundError{Kind: "alternative", ID: altID}
		}
		if existing, ok := alt.MirrorForSource(m.SourceLibraryID); ok {
			return errors.NewValidationError(
				"library %q is already mirrored by %q",
				m.SourceLibraryID, existing.ID)
		}
		alt.Mirrors = append(alt.Mirrors, m)
		alt.UpdatedAt = s.clock.Now().UTC()
		return nil
	})
	if err != nil {
		return Mirror{}, err
	}
	return m, nil
}

// UpdateMirror re-fetches the canonical mirror and applies the
// transformation to it. Identity fields survive the transform.
func (s *Store) UpdateMirror(altID, mirrorID string, transform func(*Mirror) error) error {
	return s.mutate(func(doc *Document) error {
		alt := findAlternative(doc, altID)
		if alt == nil {
			return errors.NotFoundError{Kind: "alternative", ID: altID}
		}
		for i := range alt.Mirrors {
			if alt.Mirrors[i].ID != mirrorID {
				continue
			}

			updated := alt.Mirrors[i].Copy()
			if err := transform(&updated); err != nil {
				return err
			}
			updated.ID = alt.Mirrors[i].ID
			updated.SourceLibraryID = alt.Mirrors[i].SourceLibraryID
			alt.Mirrors[i] = updated
			alt.UpdatedAt = s.clock.Now().UTC()
			return nil
		}
		return errors.NotFoundError{Kind: "mirror", ID: mirrorID}
	})
}

// RemoveMirror drops the mirror record.
func (s *Store) RemoveMirror(altID, mirrorID string) error {
	return s.mutate(func(doc *Document) error {
		alt := findAlternative(doc, altID)
		if alt == nil {
			return errors.NotFoundError{Kind: "alternative", ID: altID}
		}
		for i := range alt.Mirrors {
			if alt.Mirrors[i].ID == mirrorID {
				alt.Mirrors = append(alt.Mirrors[:i], alt.Mirrors[i+1:]...)
				alt.UpdatedAt = s.clock.Now().UTC()
				return nil
			}
		}
		return errors.NotFoundError{Kind: "mirror", ID: mirrorID}
	})
}

// UserLanguage returns the assignment for the given user, if any.
func (s *Store) UserLanguage(userID string) (UserLanguage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ul := range s.doc.Users {
		if ul.UserID == userID {
			return ul, true
		}
	}
	return UserLanguage{}, false
}

// UserLanguages returns every stored assignment.
func (s *Store) UserLanguages() []UserLanguage {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]UserLanguage{}, s.doc.Users...)
}

// SetUserLanguage upserts the assignment for ul.UserID. Records are
// created lazily on first assignment; there is exactly one per user.
func (s *Store) SetUserLanguage(ul UserLanguage) error {
	ul.UpdatedAt = s.clock.Now().UTC()

	return s.mutate(func(doc *Document) error {
		if ul.AlternativeID != "" && findAlternative(doc, ul.AlternativeID) == nil {
			return errors.NotFoundError{Kind: "alternative", ID: ul.AlternativeID}
		}
		for i := range doc.Users {
			if doc.Users[i].UserID == ul.UserID {
				doc.Users[i] = ul
				return nil
			}
		}
		doc.Users = append(doc.Users, ul)
		return nil
	})
}

// RemoveUserLanguage drops the assignment, e.g. when the user was
// deleted from the host.
func (s *Store) RemoveUserLanguage(userID string) error {
	return s.mutate(func(doc *Document) error {
		for i := range doc.Users {
			if doc.Users[i].UserID == userID {
				doc.Users = append(doc.Users[:i], doc.Users[i+1:]...)
				return nil
			}
		}
		return errors.NotFoundError{Kind: "user language", ID: userID}
	})
}

// Settings returns a deep copy of the global settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.doc.Settings.Copy()
}

// UpdateSettings applies a transformation to a fresh copy of the
// settings and persists the result.
func (s *Store) UpdateSettings(transform func(*Settings) error) error {
	return s.mutate(func(doc *Document) error {
		updated := doc.Settings.Copy()
		if err := transform(&updated); err != nil {
			return err
		}
		if updated.DefaultAlternativeID != "" &&
			findAlternative(doc, updated.DefaultAlternativeID) == nil {
			return errors.NotFoundError{
				Kind: "alternative", ID: updated.DefaultAlternativeID}
		}
		doc.Settings = updated
		return nil
	})
}
