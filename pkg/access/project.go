// Package access computes which libraries each user may browse, given
// their language assignment and the configured mirrors, and applies the
// result to the user's host account.
package access

import (
	"sort"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
)

// Projector computes the library-visibility set for a user.
type Projector struct {
	store     *config.Store
	libraries host.Libraries
}

// NewProjector returns a Projector over the given store and host
// library directory.
func NewProjector(store *config.Store, libraries host.Libraries) *Projector {
	return &Projector{store: store, libraries: libraries}
}

// managedView indexes the configured mirrors: which library ids are
// mirror sources, and which alternative owns each mirror target.
type managedView struct {
	sources     map[string]bool
	targetOwner map[string]string
}

func (v managedView) managed(libraryID string) bool {
	if v.sources[libraryID] {
		return true
	}
	_, ok := v.targetOwner[libraryID]
	return ok
}

func buildManagedView(alts []config.Alternative) managedView {
	view := managedView{
		sources:     map[string]bool{},
		targetOwner: map[string]string{},
	}
	for _, alt := range alts {
		for _, m := range alt.Mirrors {
			view.sources[m.SourceLibraryID] = true
			if m.TargetLibraryID != "" {
				view.targetOwner[m.TargetLibraryID] = alt.ID
			}
		}
	}
	return view
}

// Project returns the set of managed library ids the user should see. A
// nil result means "do not touch this user's access": the user has no
// stored assignment, or plugin management is disabled for them.
// Visibility of unmanaged libraries is preserved separately by the
// applier, never decided here.
func (p *Projector) Project(userID string) ([]string, error) {
	assignment, ok := p.store.UserLanguage(userID)
	if !ok || !assignment.Managed {
		return nil, nil
	}

	assignedAlt := assignment.AlternativeID
	if assignedAlt == "" {
		// An unassigned user follows the global default, which may
		// itself be unset (= source libraries).
		assignedAlt = p.store.Settings().DefaultAlternativeID
	}

	alts := p.store.Alternatives()
	view := buildManagedView(alts)

	var assigned *config.Alternative
	for i := range alts {
		if alts[i].ID == assignedAlt {
			assigned = &alts[i]
			break
		}
	}

	hostLibraries, err := p.libraries.All()
	if err != nil {
		return nil, errors.WithContext(err, "list host libraries")
	}
	present := map[string]bool{}
	for _, lib := range hostLibraries {
		present[lib.ID] = true
	}

	visible := []string{}
	for _, lib := range hostLibraries {
		if !view.managed(lib.ID) {
			continue
		}

		if owner, isTarget := view.targetOwner[lib.ID]; isTarget {
			// A mirror library is visible only to users of its own
			// alternative.
			if assigned != nil && owner == assigned.ID {
				visible = append(visible, lib.ID)
			}
			continue
		}

		// A source library: hidden only when the user's alternative has
		// a live mirror superseding it. A mirror whose target library is
		// missing (deleted externally, not yet created, or id unset)
		// doesn't count -- a movie with foreign metadata beats no movie.
		if assigned != nil {
			if m, ok := assigned.MirrorForSource(lib.ID); ok {
				if m.TargetLibraryID != "" && present[m.TargetLibraryID] {
					continue
				}
			}
		}
		visible = append(visible, lib.ID)
	}

	sort.Strings(visible)
	return visible, nil
}
