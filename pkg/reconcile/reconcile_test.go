package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/host"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

type fixture struct {
	store     *config.Store
	libraries *host.FakeLibraries
	clock     *clockwork.FakeClock
	rec       *Reconciler
	targetDir string
}

// newFixture builds a store with one Portuguese alternative and one
// mirror of the Movies library. The mirror's files live in a real temp
// directory so the engine's cleanup paths run against an actual tree.
func newFixture(t *testing.T) (*fixture, string, string) {
	root := t.TempDir()
	store, err := config.NewStore(filepath.Join(root, "lingomirror.yaml"),
		clockwork.NewFakeClock())
	require.NoError(t, err)

	libraries := host.NewFakeLibraries()
	clock := clockwork.NewFakeClock()
	engine := sync.NewEngine(store, libraries, clock)

	targetDir := filepath.Join(root, "pt", "movies")
	require.NoError(t, os.MkdirAll(filepath.Join(targetDir, "Heat (1995)"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(targetDir, "Heat (1995)", "Heat.mkv"), []byte("heat"), 0644))

	alt, err := store.AddAlternative(config.Alternative{Name: "Portuguese"})
	require.NoError(t, err)
	m, err := store.AddMirror(alt.ID, config.Mirror{
		SourceLibraryID:   "src-movies",
		SourceLibraryName: "Movies",
		TargetPath:        targetDir,
	})
	require.NoError(t, err)

	f := &fixture{
		store:     store,
		libraries: libraries,
		clock:     clock,
		rec:       New(store, libraries, engine, clock),
		targetDir: targetDir,
	}
	return f, alt.ID, m.ID
}

// markSynced simulates a completed create: target library registered and
// the status recorded.
func (f *fixture) markSynced(t *testing.T, altID, mirrorID string) {
	now := f.clock.Now()
	require.NoError(t, f.store.UpdateMirror(altID, mirrorID, func(m *config.Mirror) error {
		m.TargetLibraryID = "tgt-movies"
		m.Status = config.StatusSynced
		m.LastSyncedAt = &now
		return nil
	}))
}

func TestSourceLibraryGone(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.markSynced(t, altID, mirrorID)
	// Only the target library remains on the host; the source is gone.
	f.libraries.Add(host.Library{ID: "tgt-movies", Name: "Movies (Portuguese)"})

	report, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Removed)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Reasons, 1)
	assert.Contains(t, report.Reasons[0], "no longer exists")

	_, ok := f.store.Mirror(altID, mirrorID)
	assert.False(t, ok)
	_, err = os.Stat(f.targetDir)
	assert.True(t, os.IsNotExist(err))
	_, err = f.libraries.Get("tgt-movies")
	assert.Error(t, err)
}

func TestTargetLibraryRemovedExternally(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.markSynced(t, altID, mirrorID)
	// The source is still there, but an administrator deleted the mirror
	// library through the host UI.
	f.libraries.Add(host.Library{ID: "src-movies", Name: "Movies"})

	report, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Contains(t, report.Reasons[0], "removed externally")

	_, ok := f.store.Mirror(altID, mirrorID)
	assert.False(t, ok)
	_, err = os.Stat(f.targetDir)
	assert.True(t, os.IsNotExist(err))

	// The source library must be untouched.
	_, err = f.libraries.Get("src-movies")
	assert.NoError(t, err)
}

func TestHealthyMirrorIsKept(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.markSynced(t, altID, mirrorID)
	f.libraries.Add(host.Library{ID: "src-movies", Name: "Movies"})
	f.libraries.Add(host.Library{ID: "tgt-movies", Name: "Movies (Portuguese)"})

	report, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Removed)

	_, ok := f.store.Mirror(altID, mirrorID)
	assert.True(t, ok)
}

func TestGhostWithoutTimestampIsRemovedImmediately(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.libraries.Add(host.Library{ID: "src-movies", Name: "Movies"})
	// The mirror is pending with no target library and no timestamp: a
	// failed create never got far enough to record anything.

	report, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Contains(t, report.Reasons[0], "failed create")

	_, ok := f.store.Mirror(altID, mirrorID)
	assert.False(t, ok)
}

func TestGhostHonorsStalenessThreshold(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.libraries.Add(host.Library{ID: "src-movies", Name: "Movies"})

	// An errored create that did record a timestamp.
	now := f.clock.Now()
	require.NoError(t, f.store.UpdateMirror(altID, mirrorID, func(m *config.Mirror) error {
		m.Status = config.StatusError
		m.LastSyncedAt = &now
		return nil
	}))

	// Not stale yet.
	f.clock.Advance(10 * time.Minute)
	report, err := f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Removed)
	_, ok := f.store.Mirror(altID, mirrorID)
	assert.True(t, ok)

	// Past the threshold.
	f.clock.Advance(25 * time.Minute)
	report, err = f.rec.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	_, ok = f.store.Mirror(altID, mirrorID)
	assert.False(t, ok)
}

func TestRunStopsOnCancellation(t *testing.T) {
	f, altID, mirrorID := newFixture(t)
	f.markSynced(t, altID, mirrorID)
	f.libraries.Add(host.Library{ID: "src-movies", Name: "Movies"})
	f.libraries.Add(host.Library{ID: "tgt-movies", Name: "Movies (Portuguese)"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.rec.Run(ctx)
	require.Error(t, err)
	assert.Zero(t, report.Checked)

	// The mirror and its files are left exactly as they were.
	m, ok := f.store.Mirror(altID, mirrorID)
	require.True(t, ok)
	assert.Equal(t, config.StatusSynced, m.Status)
	_, statErr := os.Stat(filepath.Join(f.targetDir, "Heat (1995)", "Heat.mkv"))
	assert.NoError(t, statErr)
}
