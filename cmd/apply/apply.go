// Package apply implements the `apply` command: writing the computed
// library visibility to host user accounts.
package apply

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/access"
	"github.com/lingomirror/lingomirror/pkg/errors"
)

// New creates a new `apply` command.
func New() *cobra.Command {
	var configPath, hostPath string

	cmd := &cobra.Command{
		Use:   "apply [user-id]",
		Short: "Apply library visibility to one user, or sweep every assigned user.",
		Args:  cobra.MaximumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			userID := ""
			if len(args) == 1 {
				userID = args[0]
			}
			if err := run(configPath, hostPath, userID); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&hostPath, "host-file", util.DefaultHostPath,
		"Path to the host directory file.")
	return cmd
}

func run(configPath, hostPath, userID string) error {
	store, err := util.OpenStore(configPath)
	if err != nil {
		return errors.WithContext(err, "open config")
	}

	dir, err := util.OpenHost(hostPath)
	if err != nil {
		return errors.WithContext(err, "open host directory")
	}

	applier := access.NewApplier(store, dir, dir.Users())

	if userID != "" {
		if err := applier.Apply(userID); err != nil {
			return err
		}
		fmt.Printf("Applied access for user %s.\n", userID)
		return nil
	}

	applied, err := applier.Sweep(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("Reapplied access for %d users.\n", applied)
	return nil
}
