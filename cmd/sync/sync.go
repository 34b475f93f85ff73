// Package sync implements the `sync` command: incremental re-sync of
// one mirror or of every mirror.
package sync

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	syncpkg "github.com/lingomirror/lingomirror/pkg/sync"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	var configPath, hostPath string
	var altRef, mirrorID string

	cmd := &cobra.Command{
		Use: "sync",
		Short: "Bring mirrors up to date with their source libraries. " +
			"Syncs everything unless a mirror is named.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(configPath, hostPath, altRef, mirrorID); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&hostPath, "host-file", util.DefaultHostPath,
		"Path to the host directory file.")
	cmd.Flags().StringVar(&altRef, "alternative", "",
		"Name or id of the alternative to sync. Requires --mirror.")
	cmd.Flags().StringVar(&mirrorID, "mirror", "",
		"Id of the single mirror to sync.")
	return cmd
}

func run(configPath, hostPath, altRef, mirrorID string) error {
	if (altRef == "") != (mirrorID == "") {
		return errors.NewValidationError(
			"--alternative and --mirror must be given together")
	}

	store, err := util.OpenStore(configPath)
	if err != nil {
		return errors.WithContext(err, "open config")
	}

	dir, err := util.OpenHost(hostPath)
	if err != nil {
		return errors.WithContext(err, "open host directory")
	}

	engine := syncpkg.NewEngine(store, dir, clockwork.NewRealClock())
	ctx := context.Background()

	if mirrorID != "" {
		alt, err := util.ResolveAlternative(store, altRef)
		if err != nil {
			return err
		}

		mirror, ok := store.Mirror(alt.ID, mirrorID)
		if !ok {
			return errors.NotFoundError{Kind: "mirror", ID: mirrorID}
		}

		if err := engine.Sync(ctx, alt.ID, mirror.ID, printPercent(mirror)); err != nil {
			return err
		}
		finishLine(store, alt.ID, mirror.ID)
		return nil
	}

	return engine.SyncAll(ctx, func(m config.Mirror, percent int) {
		printPercent(m)(percent)
		if percent == 100 {
			fmt.Println()
		}
	})
}

// printPercent writes a single self-overwriting progress line.
func printPercent(m config.Mirror) func(int) {
	return func(percent int) {
		fmt.Fprintf(os.Stdout, "%sSyncing %q... %3d%%",
			util.ClearProgress, m.SourceLibraryName, percent)
	}
}

func finishLine(store *config.Store, altID, mirrorID string) {
	fmt.Println()
	if m, ok := store.Mirror(altID, mirrorID); ok {
		fmt.Printf("Mirror holds %d files.\n", m.LastFileCount)
	}
}
