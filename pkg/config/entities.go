package config

import (
	"time"
)

// Mirror statuses. There is no terminal state: a synced or failed mirror
// re-enters "syncing" on every subsequent run.
const (
	StatusPending = "pending"
	StatusSyncing = "syncing"
	StatusSynced  = "synced"
	StatusError   = "error"
)

// Alternative is a configured language variant. Each Alternative carries
// at most one Mirror per source library.
type Alternative struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	LanguageCode     string    `json:"languageCode"`
	MetadataLanguage string    `json:"metadataLanguage"`
	MetadataCountry  string    `json:"metadataCountry"`
	BasePath         string    `json:"basePath"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Mirrors          []Mirror  `json:"mirrors,omitempty"`
}

// Mirror binds one source library to one generated, hardlinked target
// directory and library.
type Mirror struct {
	ID                string `json:"id"`
	SourceLibraryID   string `json:"sourceLibraryId"`
	SourceLibraryName string `json:"sourceLibraryName"`

	// TargetLibraryID is empty until the host-side library has actually
	// been created.
	TargetLibraryID string `json:"targetLibraryId,omitempty"`

	TargetPath     string     `json:"targetPath"`
	CollectionType string     `json:"collectionType,omitempty"`
	Status         string     `json:"status"`
	LastSyncedAt   *time.Time `json:"lastSyncedAt,omitempty"`
	LastFileCount  int        `json:"lastFileCount"`
	LastError      string     `json:"lastError,omitempty"`
}

// UserLanguage is a per-user assignment. An empty AlternativeID means
// the user sees the default (source) libraries.
type UserLanguage struct {
	UserID        string    `json:"userId"`
	AlternativeID string    `json:"alternativeId,omitempty"`
	Manual        bool      `json:"manual"`
	Managed       bool      `json:"managed"`
	Source        string    `json:"source,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Settings holds the global knobs.
type Settings struct {
	DefaultAlternativeID string            `json:"defaultAlternativeId,omitempty"`
	ExcludedDirectories  []string          `json:"excludedDirectories,omitempty"`
	ExcludedExtensions   []string          `json:"excludedExtensions,omitempty"`
	GhostThreshold       time.Duration     `json:"ghostThreshold,omitempty"`
	GroupMappings        map[string]string `json:"groupMappings,omitempty"`
}

// Copy returns a deep copy of the Alternative, including its mirrors.
func (alt Alternative) Copy() Alternative {
	altCopy := alt
	altCopy.Mirrors = make([]Mirror, len(alt.Mirrors))
	for i, m := range alt.Mirrors {
		altCopy.Mirrors[i] = m.Copy()
	}
	return altCopy
}

// Copy returns a deep copy of the Mirror.
func (m Mirror) Copy() Mirror {
	mirrorCopy := m
	if m.LastSyncedAt != nil {
		at := *m.LastSyncedAt
		mirrorCopy.LastSyncedAt = &at
	}
	return mirrorCopy
}

// Copy returns a deep copy of the Settings.
func (s Settings) Copy() Settings {
	settingsCopy := s
	settingsCopy.ExcludedDirectories = append([]string{}, s.ExcludedDirectories...)
	settingsCopy.ExcludedExtensions = append([]string{}, s.ExcludedExtensions...)
	settingsCopy.GroupMappings = map[string]string{}
	for k, v := range s.GroupMappings {
		settingsCopy.GroupMappings[k] = v
	}
	return settingsCopy
}

// Mirror returns the mirror with the given id, if any.
func (alt Alternative) Mirror(id string) (Mirror, bool) {
	for _, m := range alt.Mirrors {
		if m.ID == id {
			return m, true
		}
	}
	return Mirror{}, false
}

// MirrorForSource returns the mirror covering the given source library,
// if any.
func (alt Alternative) MirrorForSource(sourceLibraryID string) (Mirror, bool) {
	for _, m := range alt.Mirrors {
		if m.SourceLibraryID == sourceLibraryID {
			return m, true
		}
	}
	return Mirror{}, false
}
