package sync

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
)

// Engine creates, re-syncs, and deletes the hardlinked file tree and
// host library of a single mirror. A per-mirror lock ensures at most one
// operation is in flight per mirror; different mirrors proceed in
// parallel.
type Engine struct {
	store     *config.Store
	libraries host.Libraries
	clock     clockwork.Clock
	locks     *locker
}

// NewEngine returns an Engine over the given store and host library
// directory.
func NewEngine(store *config.Store, libraries host.Libraries, clock clockwork.Clock) *Engine {
	return &Engine{
		store:     store,
		libraries: libraries,
		clock:     clock,
		locks:     newLocker(),
	}
}

// DeleteOptions controls what Delete tears down. Without Force, a
// partial failure aborts before the configuration record is removed so
// the operation can be retried; with Force the record is removed
// regardless and failures are reported as warnings.
type DeleteOptions struct {
	RemoveLibrary bool
	RemoveFiles   bool
	Force         bool
}

func (e *Engine) classifier() Classifier {
	settings := e.store.Settings()
	return NewClassifier(settings.ExcludedDirectories, settings.ExcludedExtensions)
}

func (e *Engine) get(altID, mirrorID string) (config.Alternative, config.Mirror, error) {
	alt, ok := e.store.Alternative(altID)
	if !ok {
		return config.Alternative{}, config.Mirror{},
			errors.NotFoundError{Kind: "alternative", ID: altID}
	}
	mirror, ok := alt.Mirror(mirrorID)
	if !ok {
		return config.Alternative{}, config.Mirror{},
			errors.NotFoundError{Kind: "mirror", ID: mirrorID}
	}
	return alt, mirror, nil
}

func (e *Engine) setSyncing(altID, mirrorID string) error {
	return e.store.UpdateMirror(altID, mirrorID, func(m *config.Mirror) error {
		m.Status = config.StatusSyncing
		m.LastError = ""
		return nil
	})
}

func (e *Engine) recordSynced(altID, mirrorID string, fileCount int) {
	now := e.clock.Now().UTC()
	err := e.store.UpdateMirror(altID, mirrorID, func(m *config.Mirror) error {
		m.Status = config.StatusSynced
		m.LastSyncedAt = &now
		m.LastFileCount = fileCount
		m.LastError = ""
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("mirror", mirrorID).
			Warn("Failed to record sync result")
	}
}

// recordOpError sets the mirror's error status. It never replaces the
// original error, which the caller re-raises.
func (e *Engine) recordOpError(altID, mirrorID string, opErr error) {
	err := e.store.UpdateMirror(altID, mirrorID, func(m *config.Mirror) error {
		m.Status = config.StatusError
		m.LastError = opErr.Error()
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("mirror", mirrorID).
			Warn("Failed to record mirror error status")
	}
}

// Create builds the mirror's file tree from scratch and registers its
// host library. On any failure the status becomes "error", a best-effort
// rollback runs, and the original error is returned.
func (e *Engine) Create(ctx context.Context, altID, mirrorID string) error {
	unlock := e.locks.lock(mirrorID)
	defer unlock()

	alt, mirror, err := e.get(altID, mirrorID)
	if err != nil {
		return err
	}

	source, err := e.libraries.Get(mirror.SourceLibraryID)
	if err != nil {
		return errors.WithContext(err, "get source library")
	}
	if len(source.Paths) == 0 {
		return errors.NewValidationError(
			"source library %q has no filesystem paths", source.Name)
	}
	if err := ValidateTarget(mirror.TargetPath, source.Paths); err != nil {
		return err
	}

	if err := e.setSyncing(altID, mirrorID); err != nil {
		return err
	}

	state := &createState{target: mirror.TargetPath}
	fileCount, err := e.create(ctx, alt, mirror, source, state)
	if err != nil {
		e.rollback(state)
		e.recordOpError(altID, mirrorID, err)
		return err
	}

	e.recordSynced(altID, mirrorID, fileCount)
	return nil
}

// createState tracks what Create changed, for failure cleanup. A target
// directory the engine created is deleted entirely on rollback; a
// pre-existing empty one only loses the files the engine placed. A
// pre-existing non-empty directory is never touched.
type createState struct {
	target       string
	createdDir   bool
	preExisting  bool
	wasEmpty     bool
	placed       []string
	registeredID string
}

func (e *Engine) create(ctx context.Context, alt config.Alternative,
	mirror config.Mirror, source host.Library, state *createState) (int, error) {

	if _, err := fs.Stat(state.target); err == nil {
		entries, err := afero.ReadDir(fs, state.target)
		if err != nil {
			return 0, errors.WithContext(err, "read target directory")
		}
		state.preExisting = true
		state.wasEmpty = len(entries) == 0
	} else {
		if err := fs.MkdirAll(state.target, 0755); err != nil {
			return 0, errors.WithContext(err, "create target directory")
		}
		state.createdDir = true
	}

	classifier := e.classifier()
	local, err := SnapshotRoots(source.Paths, &classifier)
	if err != nil {
		return 0, errors.WithContext(err, "snapshot source")
	}

	linked := 0
	for _, f := range sortedFiles(local) {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithContext(err, "create mirror")
		}

		dst := filepath.Join(state.target, f.RelPath)
		if err := e.link(f, dst); err != nil {
			log.WithError(err).WithField("path", f.RelPath).
				Warn("Failed to hardlink file. Skipping it for this run.")
			continue
		}
		state.placed = append(state.placed, dst)
		linked++
	}

	if mirror.TargetLibraryID == "" {
		libraryID, err := e.registerLibrary(alt, mirror, source)
		if err != nil {
			return 0, errors.WithContext(err, "register mirror library")
		}
		state.registeredID = libraryID
		err = e.store.UpdateMirror(alt.ID, mirror.ID, func(m *config.Mirror) error {
			m.TargetLibraryID = libraryID
			return nil
		})
		if err != nil {
			return 0, errors.WithContext(err, "record mirror library id")
		}
		mirror.TargetLibraryID = libraryID
	}

	if err := e.libraries.Refresh(mirror.TargetLibraryID); err != nil {
		log.WithError(err).WithField("library", mirror.TargetLibraryID).
			Warn("Failed to trigger a metadata refresh")
	}
	return linked, nil
}

// registerLibrary creates the host-side library for the mirror, copying
// the source library's non-language settings. Local metadata, subtitle
// and lyric saving are forced off: the mirrored files are shared inodes,
// and writing sidecars next to them would corrupt the source library.
func (e *Engine) registerLibrary(alt config.Alternative, mirror config.Mirror,
	source host.Library) (string, error) {

	opts := source.Options
	opts.PreferredMetadataLanguage = alt.MetadataLanguage
	opts.MetadataCountryCode = alt.MetadataCountry
	opts.SaveLocalMetadata = false
	opts.SaveSubtitles = false
	opts.SaveLyrics = false

	collectionType := mirror.CollectionType
	if collectionType == "" {
		collectionType = source.CollectionType
	}

	name := fmt.Sprintf("%s (%s)", source.Name, alt.Name)
	library, err := e.libraries.Create(name, collectionType,
		[]string{mirror.TargetPath}, opts)
	if err != nil {
		return "", err
	}
	return library.ID, nil
}

func (e *Engine) link(f File, dst string) error {
	if err := fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.WithContext(err, "create parent directory")
	}
	if _, err := fs.Stat(dst); err == nil {
		// Re-link so the hardlink points at current source content.
		if err := fs.Remove(dst); err != nil {
			return errors.WithContext(err, "remove outdated file")
		}
	}
	if err := linkFile(f.AbsPath, dst); err != nil {
		return errors.WithContext(err, "hardlink")
	}
	return nil
}

// rollback undoes a failed Create as far as it safely can. Its own
// failures are logged and never replace the original error.
func (e *Engine) rollback(state *createState) {
	if state.registeredID != "" {
		if err := e.libraries.Remove(state.registeredID); err != nil {
			log.WithError(err).WithField("library", state.registeredID).
				Warn("Failed to remove partially registered library during rollback")
		}
	}

	switch {
	case state.createdDir:
		if err := fs.RemoveAll(state.target); err != nil {
			log.WithError(err).WithField("path", state.target).
				Warn("Failed to remove target directory during rollback")
		}
	case state.preExisting && state.wasEmpty:
		for _, path := range state.placed {
			if err := fs.Remove(path); err != nil {
				log.WithError(err).WithField("path", path).
					Warn("Failed to remove placed file during rollback")
			}
		}
		e.pruneEmptyDirs(state.placed, state.target)
	default:
		// The target pre-existed with content in it. Leave it alone.
	}
}

// Sync incrementally reconciles the mirror's tree against the source:
// changed or missing files are re-linked, files gone from the source are
// removed and their now-empty parents pruned. Per-file failures are
// logged and skipped; they never abort the run. Progress is reported as
// a 0-100 percentage of operations processed, and the callback can't
// break the sync.
func (e *Engine) Sync(ctx context.Context, altID, mirrorID string, progress func(int)) error {
	unlock := e.locks.lock(mirrorID)
	defer unlock()

	_, mirror, err := e.get(altID, mirrorID)
	if err != nil {
		return err
	}
	source, err := e.libraries.Get(mirror.SourceLibraryID)
	if err != nil {
		return errors.WithContext(err, "get source library")
	}

	if err := e.setSyncing(altID, mirrorID); err != nil {
		return err
	}

	fileCount, err := e.sync(ctx, mirror, source, progress)
	if err != nil {
		e.recordOpError(altID, mirrorID, err)
		return err
	}

	e.recordSynced(altID, mirrorID, fileCount)
	return nil
}

func (e *Engine) sync(ctx context.Context, mirror config.Mirror,
	source host.Library, progress func(int)) (int, error) {

	classifier := e.classifier()
	local, err := SnapshotRoots(source.Paths, &classifier)
	if err != nil {
		return 0, errors.WithContext(err, "snapshot source")
	}

	if err := fs.MkdirAll(mirror.TargetPath, 0755); err != nil {
		return 0, errors.WithContext(err, "create target directory")
	}
	current, err := SnapshotTree(mirror.TargetPath, nil)
	if err != nil {
		return 0, errors.WithContext(err, "snapshot target")
	}

	toLink, toRemove := local.Diff(current)
	total := len(toLink) + len(toRemove)
	done := 0
	report := func() {
		done++
		if progress == nil {
			return
		}
		// Callback failures are swallowed; they never abort the sync.
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Warn("Progress callback panicked")
			}
		}()
		progress(done * 100 / total)
	}

	linkFailures := 0
	for _, f := range toLink {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithContext(err, "sync mirror")
		}
		dst := filepath.Join(mirror.TargetPath, f.RelPath)
		if err := e.link(f, dst); err != nil {
			log.WithError(err).WithField("path", f.RelPath).
				Warn("Failed to hardlink file. Skipping it for this run.")
			linkFailures++
		}
		report()
	}

	var removed []string
	for _, relPath := range toRemove {
		if err := ctx.Err(); err != nil {
			return 0, errors.WithContext(err, "sync mirror")
		}
		dst := filepath.Join(mirror.TargetPath, relPath)
		if err := fs.Remove(dst); err != nil {
			log.WithError(err).WithField("path", relPath).
				Warn("Failed to remove file. Skipping it for this run.")
		} else {
			removed = append(removed, dst)
		}
		report()
	}
	e.pruneEmptyDirs(removed, mirror.TargetPath)

	return len(local) - linkFailures, nil
}

// pruneEmptyDirs removes directories left empty after the given files
// were deleted, walking each parent chain up to (but excluding) root.
func (e *Engine) pruneEmptyDirs(deleted []string, root string) {
	root = filepath.Clean(root)

	dirs := map[string]bool{}
	for _, path := range deleted {
		for dir := filepath.Dir(path); dir != root && isWithin(dir, root); dir = filepath.Dir(dir) {
			dirs[dir] = true
		}
	}

	// Deepest first, so emptying a child can empty its parent.
	var ordered []string
	for dir := range dirs {
		ordered = append(ordered, dir)
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	for _, dir := range ordered {
		entries, err := afero.ReadDir(fs, dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := fs.Remove(dir); err != nil {
			log.WithError(err).WithField("path", dir).
				Warn("Failed to prune empty directory")
		}
	}
}

// Delete tears the mirror down according to opts. The per-mirror lock is
// evicted once the configuration record is gone.
func (e *Engine) Delete(ctx context.Context, altID, mirrorID string, opts DeleteOptions) error {
	unlock := e.locks.lock(mirrorID)
	defer unlock()

	_, mirror, err := e.get(altID, mirrorID)
	if err != nil {
		return err
	}

	if opts.RemoveLibrary && mirror.TargetLibraryID != "" {
		err := e.libraries.Remove(mirror.TargetLibraryID)
		var notFound errors.NotFoundError
		switch {
		case err == nil, errors.As(err, &notFound):
			// Already gone is fine.
		case opts.Force:
			log.WithError(err).WithField("library", mirror.TargetLibraryID).
				Warn("Failed to remove mirror library. Removing the mirror anyway.")
		default:
			return errors.WithContext(err, "remove mirror library")
		}
	}

	if opts.RemoveFiles && mirror.TargetPath != "" {
		err := fs.RemoveAll(mirror.TargetPath)
		switch {
		case err == nil:
		case opts.Force:
			log.WithError(err).WithField("path", mirror.TargetPath).
				Warn("Failed to remove mirror files. Removing the mirror anyway.")
		default:
			return errors.WithContext(err, "remove mirror files")
		}
	}

	if err := e.store.RemoveMirror(altID, mirrorID); err != nil {
		return err
	}
	e.locks.evict(mirrorID)
	return nil
}

// DeleteAlternative deletes every mirror of the alternative (slow, done
// outside the store lock) and then removes the record atomically. If a
// concurrent request added a mirror mid-deletion, the removal is refused
// with a ConflictError naming the new ids instead of silently losing
// them.
func (e *Engine) DeleteAlternative(ctx context.Context, altID string, opts DeleteOptions) error {
	alt, ok := e.store.Alternative(altID)
	if !ok {
		return errors.NotFoundError{Kind: "alternative", ID: altID}
	}

	var observed []string
	for _, m := range alt.Mirrors {
		observed = append(observed, m.ID)
	}

	for _, m := range alt.Mirrors {
		if err := ctx.Err(); err != nil {
			return errors.WithContext(err, "delete alternative")
		}
		if err := e.Delete(ctx, altID, m.ID, opts); err != nil {
			return errors.WithContext(err, "delete mirror "+m.ID)
		}
	}

	return e.store.TryRemoveAlternative(altID, observed)
}

// SyncAll re-syncs every configured mirror sequentially. A failing
// mirror is logged and doesn't stop the batch; cancellation aborts the
// remaining queue after the in-flight mirror has settled its own status.
func (e *Engine) SyncAll(ctx context.Context, progress func(config.Mirror, int)) error {
	for _, alt := range e.store.Alternatives() {
		for _, m := range alt.Mirrors {
			if err := ctx.Err(); err != nil {
				return errors.WithContext(err, "sync all")
			}

			var report func(int)
			if progress != nil {
				m := m
				report = func(percent int) { progress(m, percent) }
			}
			if err := e.Sync(ctx, alt.ID, m.ID, report); err != nil {
				log.WithError(err).WithFields(log.Fields{
					"alternative": alt.Name,
					"mirror":      m.ID,
				}).Warn("Failed to sync mirror. Continuing with the remaining mirrors.")
			}
		}
	}
	return nil
}

func sortedFiles(snapshot Snapshot) []File {
	files := make([]File, 0, len(snapshot))
	for _, f := range snapshot {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files
}
