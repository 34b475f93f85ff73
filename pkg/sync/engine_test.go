package sync

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
)

// testLink stands in for os.Link on the in-memory filesystem: it copies
// the contents and preserves the modification time, which is all the
// signature comparison observes.
func testLink(src, dst string) error {
	data, err := afero.ReadFile(fs, src)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(fs, dst, data, 0644); err != nil {
		return err
	}
	fi, err := fs.Stat(src)
	if err != nil {
		return err
	}
	return fs.Chtimes(dst, fi.ModTime(), fi.ModTime())
}

func newTestEngine(t *testing.T) (*Engine, *config.Store, *host.FakeLibraries) {
	fs = afero.NewMemMapFs()
	volumeID = func(string) (uint64, error) { return 1, nil }
	linkFile = testLink

	store, err := config.NewStore(filepath.Join(t.TempDir(), "lingomirror.yaml"),
		clockwork.NewFakeClock())
	require.NoError(t, err)

	libraries := host.NewFakeLibraries()
	return NewEngine(store, libraries, clockwork.NewFakeClock()), store, libraries
}

// seedMirror sets up a Movies source library with a couple of files
// (including sidecars that must never be mirrored) and a pending mirror
// for it.
func seedMirror(t *testing.T, store *config.Store, libraries *host.FakeLibraries) (string, string) {
	libraries.Add(host.Library{
		ID:             "src-movies",
		Name:           "Movies",
		CollectionType: "movies",
		Paths:          []string{"/media/movies"},
		Options: host.LibraryOptions{
			PreferredMetadataLanguage: "en",
			SaveLocalMetadata:         true,
			SaveSubtitles:             true,
			MetadataFetchers:          []string{"TheMovieDb"},
		},
	})

	modTime := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	for _, f := range []mockFile{
		{path: "/media/movies/Heat (1995)/Heat.mkv", contents: "heat", modTime: modTime},
		{path: "/media/movies/Ran (1985)/Ran.mkv", contents: "ran", modTime: modTime},
		{path: "/media/movies/Heat (1995)/Heat.nfo", contents: "meta", modTime: modTime},
		{path: "/media/movies/Heat (1995)/extrafanart/art.jpg", contents: "art", modTime: modTime},
	} {
		f.write(t)
	}

	alt, err := store.AddAlternative(config.Alternative{
		Name:             "Portuguese",
		LanguageCode:     "pt-BR",
		MetadataLanguage: "pt-BR",
		MetadataCountry:  "BR",
	})
	require.NoError(t, err)

	m, err := store.AddMirror(alt.ID, config.Mirror{
		SourceLibraryID:   "src-movies",
		SourceLibraryName: "Movies",
		TargetPath:        "/media/pt/movies",
	})
	require.NoError(t, err)
	return alt.ID, m.ID
}

func assertFileContents(t *testing.T, path, contents string) {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, contents, string(data))
}

func TestCreateMirror(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)

	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	assertFileContents(t, "/media/pt/movies/Heat (1995)/Heat.mkv", "heat")
	assertFileContents(t, "/media/pt/movies/Ran (1985)/Ran.mkv", "ran")

	for _, excluded := range []string{
		"/media/pt/movies/Heat (1995)/Heat.nfo",
		"/media/pt/movies/Heat (1995)/extrafanart/art.jpg",
	} {
		exists, err := afero.Exists(fs, excluded)
		require.NoError(t, err)
		assert.False(t, exists, "%s must not be mirrored", excluded)
	}

	m, ok := store.Mirror(altID, mirrorID)
	require.True(t, ok)
	assert.Equal(t, config.StatusSynced, m.Status)
	assert.Equal(t, 2, m.LastFileCount)
	assert.NotNil(t, m.LastSyncedAt)
	require.NotEmpty(t, m.TargetLibraryID)

	library, err := libraries.Get(m.TargetLibraryID)
	require.NoError(t, err)
	assert.Equal(t, "Movies (Portuguese)", library.Name)
	assert.Equal(t, "movies", library.CollectionType)
	assert.Equal(t, []string{"/media/pt/movies"}, library.Paths)
	// Language settings come from the alternative, savers are forced off,
	// everything else is copied from the source.
	assert.Equal(t, "pt-BR", library.Options.PreferredMetadataLanguage)
	assert.Equal(t, "BR", library.Options.MetadataCountryCode)
	assert.False(t, library.Options.SaveLocalMetadata)
	assert.False(t, library.Options.SaveSubtitles)
	assert.Equal(t, []string{"TheMovieDb"}, library.Options.MetadataFetchers)

	assert.Equal(t, []string{m.TargetLibraryID}, libraries.Refreshed)
}

func TestCreateRejectsCrossVolume(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)

	volumeID = func(path string) (uint64, error) {
		if strings.HasPrefix(path, "/media/movies") {
			return 1, nil
		}
		return 2, nil
	}

	err := engine.Create(context.Background(), altID, mirrorID)
	var validation errors.ValidationError
	require.True(t, errors.As(err, &validation))

	// Rejected before any side effect: no target directory, no library,
	// status still pending.
	exists, _ := afero.DirExists(fs, "/media/pt/movies")
	assert.False(t, exists)
	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, config.StatusPending, m.Status)
	assert.Empty(t, m.TargetLibraryID)
}

func TestCreateRollsBackOnRegistrationFailure(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	libraries.CreateErr = errors.New("host refused the library")

	err := engine.Create(context.Background(), altID, mirrorID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "host refused the library")

	// The engine created the target directory, so rollback removes it
	// entirely.
	exists, _ := afero.DirExists(fs, "/media/pt/movies")
	assert.False(t, exists)

	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, config.StatusError, m.Status)
	assert.Contains(t, m.LastError, "host refused the library")
}

func TestCreateRollbackSparesPreExistingEmptyDir(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, fs.MkdirAll("/media/pt/movies", 0755))
	libraries.CreateErr = errors.New("host refused the library")

	require.Error(t, engine.Create(context.Background(), altID, mirrorID))

	// The directory pre-existed, so only the engine's own files go.
	exists, _ := afero.DirExists(fs, "/media/pt/movies")
	assert.True(t, exists)
	heat, _ := afero.Exists(fs, "/media/pt/movies/Heat (1995)/Heat.mkv")
	assert.False(t, heat)
}

func TestCreateSkipsFailedFilesAndFinishes(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)

	linkFile = func(src, dst string) error {
		if filepath.Base(dst) == "Ran.mkv" {
			return errors.New("device busy")
		}
		return testLink(src, dst)
	}

	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	m, ok := store.Mirror(altID, mirrorID)
	require.True(t, ok)
	assert.Equal(t, config.StatusSynced, m.Status)
	assert.Equal(t, 1, m.LastFileCount)
	assertFileContents(t, "/media/pt/movies/Heat (1995)/Heat.mkv", "heat")

	// The next sync diffs against the real target tree and repairs the
	// skipped file.
	linkFile = testLink
	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, nil))
	m, _ = store.Mirror(altID, mirrorID)
	assert.Equal(t, 2, m.LastFileCount)
	assertFileContents(t, "/media/pt/movies/Ran (1985)/Ran.mkv", "ran")
}

func TestSyncIsIdempotent(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	ops := 0
	count := func(int) { ops++ }

	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, count))
	assert.Zero(t, ops, "sync right after create must be a no-op")

	mockFile{path: "/media/movies/Alien (1979)/Alien.mkv", contents: "alien",
		modTime: time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)}.write(t)

	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, count))
	assert.Equal(t, 1, ops)
	assertFileContents(t, "/media/pt/movies/Alien (1979)/Alien.mkv", "alien")

	ops = 0
	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, count))
	assert.Zero(t, ops, "second sync with no source changes must be a no-op")

	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, config.StatusSynced, m.Status)
	assert.Equal(t, 3, m.LastFileCount)
}

func TestSyncRemovesAndPrunes(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	require.NoError(t, fs.RemoveAll("/media/movies/Ran (1985)"))
	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, nil))

	gone, _ := afero.Exists(fs, "/media/pt/movies/Ran (1985)/Ran.mkv")
	assert.False(t, gone)
	dirGone, _ := afero.DirExists(fs, "/media/pt/movies/Ran (1985)")
	assert.False(t, dirGone, "emptied parent directory must be pruned")
	rootStays, _ := afero.DirExists(fs, "/media/pt/movies")
	assert.True(t, rootStays)

	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, 1, m.LastFileCount)
}

func TestSyncRelinksChangedFile(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	mockFile{path: "/media/movies/Heat (1995)/Heat.mkv", contents: "heat remastered",
		modTime: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}.write(t)

	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, nil))
	assertFileContents(t, "/media/pt/movies/Heat (1995)/Heat.mkv", "heat remastered")
}

func TestSyncSkipsFailedFilesAndFinishes(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	mockFile{path: "/media/movies/Alien (1979)/Alien.mkv", contents: "alien",
		modTime: time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)}.write(t)
	mockFile{path: "/media/movies/Brazil (1985)/Brazil.mkv", contents: "brazil",
		modTime: time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)}.write(t)

	linkFile = func(src, dst string) error {
		if filepath.Base(dst) == "Alien.mkv" {
			return errors.New("device busy")
		}
		return testLink(src, dst)
	}

	require.NoError(t, engine.Sync(context.Background(), altID, mirrorID, nil))

	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, config.StatusSynced, m.Status)
	// 4 source files qualify, one failed to link.
	assert.Equal(t, 3, m.LastFileCount)
	assertFileContents(t, "/media/pt/movies/Brazil (1985)/Brazil.mkv", "brazil")
}

func TestSyncSwallowsProgressPanics(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	mockFile{path: "/media/movies/Alien (1979)/Alien.mkv", contents: "alien",
		modTime: time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)}.write(t)

	err := engine.Sync(context.Background(), altID, mirrorID, func(int) {
		panic("listener bug")
	})
	assert.NoError(t, err)

	m, _ := store.Mirror(altID, mirrorID)
	assert.Equal(t, config.StatusSynced, m.Status)
}

func TestDeleteWithoutForceAbortsOnLibraryFailure(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	libraries.RemoveErr = errors.New("library still referenced")
	err := engine.Delete(context.Background(), altID, mirrorID,
		DeleteOptions{RemoveLibrary: true, RemoveFiles: true})
	require.Error(t, err)

	// The record survives so the delete can be retried.
	_, ok := store.Mirror(altID, mirrorID)
	assert.True(t, ok)
	filesStay, _ := afero.Exists(fs, "/media/pt/movies/Heat (1995)/Heat.mkv")
	assert.True(t, filesStay)
}

func TestDeleteWithForceRemovesRecordAnyway(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	libraries.RemoveErr = errors.New("library still referenced")
	err := engine.Delete(context.Background(), altID, mirrorID,
		DeleteOptions{RemoveLibrary: true, RemoveFiles: true, Force: true})
	require.NoError(t, err)

	_, ok := store.Mirror(altID, mirrorID)
	assert.False(t, ok)
	filesGone, _ := afero.Exists(fs, "/media/pt/movies/Heat (1995)/Heat.mkv")
	assert.False(t, filesGone)
}

func TestDeleteAlternative(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	require.NoError(t, engine.DeleteAlternative(context.Background(), altID,
		DeleteOptions{RemoveLibrary: true, RemoveFiles: true}))

	_, ok := store.Alternative(altID)
	assert.False(t, ok)
	filesGone, _ := afero.Exists(fs, "/media/pt/movies")
	assert.False(t, filesGone)
}

func TestSyncStopsOnCancellation(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, mirrorID := seedMirror(t, store, libraries)
	require.NoError(t, engine.Create(context.Background(), altID, mirrorID))

	// Two new files, so a file boundary remains after the first
	// progress callback fires.
	modTime := time.Date(2025, 4, 2, 12, 0, 0, 0, time.UTC)
	mockFile{path: "/media/movies/Alien (1979)/Alien.mkv", contents: "alien", modTime: modTime}.write(t)
	mockFile{path: "/media/movies/Brazil (1985)/Brazil.mkv", contents: "brazil", modTime: modTime}.write(t)

	ctx, cancel := context.WithCancel(context.Background())
	ops := 0
	err := engine.Sync(ctx, altID, mirrorID, func(int) {
		ops++
		cancel()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, ops, "the run must stop at the next file boundary")

	m, ok := store.Mirror(altID, mirrorID)
	require.True(t, ok)
	assert.Equal(t, config.StatusError, m.Status)
	assert.NotEmpty(t, m.LastError)

	linked, _ := afero.Exists(fs, "/media/pt/movies/Brazil (1985)/Brazil.mkv")
	assert.False(t, linked, "no file past the cancellation point may be linked")
}

func TestSyncAllStopsBetweenMirrors(t *testing.T) {
	engine, store, libraries := newTestEngine(t)
	altID, _ := seedMirror(t, store, libraries)

	libraries.Add(host.Library{
		ID:             "src-shows",
		Name:           "Shows",
		CollectionType: "tvshows",
		Paths:          []string{"/media/shows"},
	})
	modTime := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	mockFile{path: "/media/shows/Twin Peaks/Pilot.mkv", contents: "pilot", modTime: modTime}.write(t)
	second, err := store.AddMirror(altID, config.Mirror{
		SourceLibraryID:   "src-shows",
		SourceLibraryName: "Shows",
		TargetPath:        "/media/pt/shows",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	err = engine.SyncAll(ctx, func(config.Mirror, int) { cancel() })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	m, ok := store.Mirror(altID, second.ID)
	require.True(t, ok)
	assert.Equal(t, config.StatusPending, m.Status)
	touched, _ := afero.DirExists(fs, "/media/pt/shows")
	assert.False(t, touched, "mirrors after the cancellation point must stay untouched")
}
