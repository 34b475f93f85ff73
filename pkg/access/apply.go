package access

import (
	"context"
	"sort"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
)

// sweepParallelism bounds how many users a sweep reprojects at once.
const sweepParallelism = 4

// Applier merges a user's projection with their pre-existing access to
// unmanaged libraries and writes the result to the host account. A
// library wholly outside the mirror configuration is never hidden.
type Applier struct {
	projector *Projector
	store     *config.Store
	libraries host.Libraries
	users     host.Users
}

// NewApplier returns an Applier.
func NewApplier(store *config.Store, libraries host.Libraries, users host.Users) *Applier {
	return &Applier{
		projector: NewProjector(store, libraries),
		store:     store,
		libraries: libraries,
		users:     users,
	}
}

// desired computes the full folder list that should be written for the
// user: the managed projection plus whatever unmanaged libraries the
// user could already see. The second return is false when the user's
// access must not be touched.
func (a *Applier) desired(user host.User) ([]string, bool, error) {
	projected, err := a.projector.Project(user.ID)
	if err != nil {
		return nil, false, err
	}
	if projected == nil {
		return nil, false, nil
	}

	view := buildManagedView(a.store.Alternatives())
	hostLibraries, err := a.libraries.All()
	if err != nil {
		return nil, false, errors.WithContext(err, "list host libraries")
	}

	enabled := map[string]bool{}
	for _, id := range user.EnabledFolders {
		enabled[id] = true
	}

	folders := append([]string{}, projected...)
	for _, lib := range hostLibraries {
		if view.managed(lib.ID) {
			continue
		}
		if user.EnableAllFolders || enabled[lib.ID] {
			folders = append(folders, lib.ID)
		}
	}
	sort.Strings(folders)
	return folders, true, nil
}

// Apply recomputes the user's visibility set and writes it. Writing
// always turns the all-folders flag off, since a user seeing everything
// would see other languages' mirrors too.
func (a *Applier) Apply(userID string) error {
	user, err := a.users.Get(userID)
	if err != nil {
		return errors.WithContext(err, "get user")
	}

	folders, touch, err := a.desired(user)
	if err != nil {
		return err
	}
	if !touch {
		return nil
	}

	if err := a.users.SetAccess(user.ID, false, folders); err != nil {
		return errors.WithContext(err, "set access")
	}
	return nil
}

// Sweep recomputes the projection for every user with a stored
// assignment and reapplies it where the live access differs. It's meant
// for startup and after bulk configuration changes, not as a poller.
// Assignments of users that no longer exist on the host are dropped.
// The returned count is the number of users whose access was rewritten.
func (a *Applier) Sweep(ctx context.Context) (int, error) {
	assignments := a.store.UserLanguages()

	var group errgroup.Group
	group.SetLimit(sweepParallelism)

	applied := make(chan string, len(assignments))
	for _, assignment := range assignments {
		assignment := assignment
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return errors.WithContext(err, "sweep")
			}

			changed, err := a.sweepUser(assignment.UserID)
			if err != nil {
				log.WithError(err).WithField("user", assignment.UserID).
					Warn("Failed to reproject user access. Continuing with the remaining users.")
				return nil
			}
			if changed {
				applied <- assignment.UserID
			}
			return nil
		})
	}

	err := group.Wait()
	close(applied)
	return len(applied), err
}

func (a *Applier) sweepUser(userID string) (bool, error) {
	user, err := a.users.Get(userID)
	var notFound errors.NotFoundError
	if errors.As(err, &notFound) {
		// The user was deleted on the host; their assignment goes too.
		if err := a.store.RemoveUserLanguage(userID); err != nil {
			return false, errors.WithContext(err, "drop stale assignment")
		}
		return false, nil
	}
	if err != nil {
		return false, errors.WithContext(err, "get user")
	}

	folders, touch, err := a.desired(user)
	if err != nil {
		return false, err
	}
	if !touch {
		return false, nil
	}

	if !user.EnableAllFolders && equalSets(user.EnabledFolders, folders) {
		return false, nil
	}

	if err := a.users.SetAccess(user.ID, false, folders); err != nil {
		return false, errors.WithContext(err, "set access")
	}
	return true, nil
}

func equalSets(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := map[string]bool{}
	for _, id := range a {
		set[id] = true
	}
	for _, id := range b {
		if !set[id] {
			return false
		}
	}
	return true
}
