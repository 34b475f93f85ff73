// Package reconcile removes mirrors whose source or target no longer
// exists, and ghosts left behind by failed creates.
package reconcile

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

// Reconciler scans every configured mirror and cleans up orphans. It
// never raises on a per-mirror failure; successes and failures are
// accumulated into the returned Report.
type Reconciler struct {
	store     *config.Store
	libraries host.Libraries
	engine    *sync.Engine
	clock     clockwork.Clock
}

// New returns a Reconciler.
func New(store *config.Store, libraries host.Libraries, engine *sync.Engine,
	clock clockwork.Clock) *Reconciler {

	return &Reconciler{store: store, libraries: libraries, engine: engine, clock: clock}
}

// Report summarizes one reconciliation run.
type Report struct {
	Checked int
	Removed int
	Failed  int

	// Reasons holds one human-readable line per removed or failed
	// mirror.
	Reasons []string
}

func (r *Report) removed(format string, args ...interface{}) {
	r.Removed++
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

func (r *Report) failed(format string, args ...interface{}) {
	r.Failed++
	r.Reasons = append(r.Reasons, fmt.Sprintf(format, args...))
}

// Run checks all mirrors of all alternatives. Cancellation aborts the
// remaining queue between mirrors.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	libraries, err := r.libraries.All()
	if err != nil {
		return Report{}, errors.WithContext(err, "list host libraries")
	}
	present := map[string]bool{}
	for _, lib := range libraries {
		present[lib.ID] = true
	}

	var report Report
	for _, alt := range r.store.Alternatives() {
		for _, m := range alt.Mirrors {
			if err := ctx.Err(); err != nil {
				return report, errors.WithContext(err, "reconcile")
			}
			report.Checked++
			r.reconcileMirror(ctx, &report, alt, m, present)
		}
	}
	return report, nil
}

func (r *Reconciler) reconcileMirror(ctx context.Context, report *Report,
	alt config.Alternative, m config.Mirror, present map[string]bool) {

	logger := log.WithFields(log.Fields{
		"alternative": alt.Name,
		"mirror":      m.ID,
		"source":      m.SourceLibraryName,
	})

	switch {
	case !present[m.SourceLibraryID]:
		// The source library is gone; the mirror has nothing left to
		// mirror. Remove its library, files and config entry.
		err := r.engine.Delete(ctx, alt.ID, m.ID, sync.DeleteOptions{
			RemoveLibrary: true, RemoveFiles: true, Force: true,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to remove orphaned mirror")
			report.failed("mirror %s of %q: source library gone, cleanup failed: %s",
				m.ID, alt.Name, err)
			return
		}
		report.removed("mirror %s of %q: source library %q no longer exists",
			m.ID, alt.Name, m.SourceLibraryName)

	case m.TargetLibraryID != "" && !present[m.TargetLibraryID]:
		// The mirror library was removed externally (e.g. by an
		// administrator through the host UI). Drop the files and the
		// config entry; the source stays untouched.
		err := r.engine.Delete(ctx, alt.ID, m.ID, sync.DeleteOptions{
			RemoveFiles: true, Force: true,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to remove externally deleted mirror")
			report.failed("mirror %s of %q: target library gone, cleanup failed: %s",
				m.ID, alt.Name, err)
			return
		}
		report.removed("mirror %s of %q: target library was removed externally",
			m.ID, alt.Name)

	case r.isGhost(m):
		err := r.engine.Delete(ctx, alt.ID, m.ID, sync.DeleteOptions{
			RemoveFiles: true, Force: true,
		})
		if err != nil {
			logger.WithError(err).Warn("Failed to remove ghost mirror")
			report.failed("mirror %s of %q: ghost, cleanup failed: %s",
				m.ID, alt.Name, err)
			return
		}
		report.removed("mirror %s of %q: stuck without a target library (failed create)",
			m.ID, alt.Name)
	}
}

// isGhost reports whether the mirror looks like a leftover of a failed
// create: stuck in pending or error with no target library for longer
// than the staleness threshold, or with no timestamp at all.
func (r *Reconciler) isGhost(m config.Mirror) bool {
	if m.TargetLibraryID != "" {
		return false
	}
	if m.Status != config.StatusPending && m.Status != config.StatusError {
		return false
	}
	if m.LastSyncedAt == nil {
		return true
	}
	threshold := r.store.Settings().GhostThreshold
	return r.clock.Now().Sub(*m.LastSyncedAt) > threshold
}
