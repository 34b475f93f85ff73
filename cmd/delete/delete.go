// Package delete implements the `delete` command: tearing down a single
// mirror or a whole alternative.
package delete

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

// New creates a new `delete` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a mirror or an alternative. Source libraries are never touched.",
	}
	cmd.AddCommand(newMirror(), newAlternative())
	return cmd
}

func newMirror() *cobra.Command {
	var configPath, hostPath string
	var altRef, mirrorID string
	var keepLibrary, keepFiles, force bool

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Delete one mirror: its library registration, files, and record.",
		Run: func(_ *cobra.Command, _ []string) {
			engine, store, err := dial(configPath, hostPath)
			if err != nil {
				util.HandleFatalError(err)
			}

			alt, err := util.ResolveAlternative(store, altRef)
			if err != nil {
				util.HandleFatalError(err)
			}

			err = engine.Delete(context.Background(), alt.ID, mirrorID, sync.DeleteOptions{
				RemoveLibrary: !keepLibrary,
				RemoveFiles:   !keepFiles,
				Force:         force,
			})
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Println("Mirror deleted.")
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&hostPath, "host-file", util.DefaultHostPath,
		"Path to the host directory file.")
	cmd.Flags().StringVar(&altRef, "alternative", "",
		"Name or id of the alternative the mirror belongs to.")
	cmd.Flags().StringVar(&mirrorID, "mirror", "", "Id of the mirror to delete.")
	cmd.Flags().BoolVar(&keepLibrary, "keep-library", false,
		"Leave the host library registration in place.")
	cmd.Flags().BoolVar(&keepFiles, "keep-files", false,
		"Leave the hardlinked tree on disk.")
	cmd.Flags().BoolVar(&force, "force", false,
		"Remove the configuration record even if cleanup partially fails.")
	cobra.CheckErr(cmd.MarkFlagRequired("alternative"))
	cobra.CheckErr(cmd.MarkFlagRequired("mirror"))
	return cmd
}

func newAlternative() *cobra.Command {
	var configPath, hostPath string
	var altRef string
	var force bool

	cmd := &cobra.Command{
		Use:   "alternative",
		Short: "Delete an alternative and every mirror it carries.",
		Run: func(_ *cobra.Command, _ []string) {
			engine, store, err := dial(configPath, hostPath)
			if err != nil {
				util.HandleFatalError(err)
			}

			alt, err := util.ResolveAlternative(store, altRef)
			if err != nil {
				util.HandleFatalError(err)
			}

			err = engine.DeleteAlternative(context.Background(), alt.ID, sync.DeleteOptions{
				RemoveLibrary: true,
				RemoveFiles:   true,
				Force:         force,
			})

			var conflict errors.ConflictError
			if errors.As(err, &conflict) {
				util.HandleFatalError(errors.NewFriendlyError(
					"New mirrors were added to %q while it was being deleted.\n"+
						"Nothing was removed from the configuration. Re-run the "+
						"command to delete the new mirrors as well.", alt.Name))
			}
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Printf("Deleted alternative %q.\n", alt.Name)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&hostPath, "host-file", util.DefaultHostPath,
		"Path to the host directory file.")
	cmd.Flags().StringVar(&altRef, "alternative", "",
		"Name or id of the alternative to delete.")
	cmd.Flags().BoolVar(&force, "force", false,
		"Remove configuration records even if cleanup partially fails.")
	cobra.CheckErr(cmd.MarkFlagRequired("alternative"))
	return cmd
}

func dial(configPath, hostPath string) (*sync.Engine, *config.Store, error) {
	store, err := util.OpenStore(configPath)
	if err != nil {
		return nil, nil, errors.WithContext(err, "open config")
	}

	dir, err := util.OpenHost(hostPath)
	if err != nil {
		return nil, nil, errors.WithContext(err, "open host directory")
	}

	return sync.NewEngine(store, dir, clockwork.NewRealClock()), store, nil
}
