// Package cleanup implements the `cleanup` command: a single pass of
// the orphan reconciler.
package cleanup

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/reconcile"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

// New creates a new `cleanup` command.
func New() *cobra.Command {
	var configPath, hostPath string

	cmd := &cobra.Command{
		Use: "cleanup",
		Short: "Remove orphaned mirrors: deleted sources, externally " +
			"removed targets, and leftovers of failed creates.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(configPath, hostPath); err != nil {
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

func run(configPath, hostPath string) error {
	store, err := util.OpenStore(configPath)
	if err != nil {
		return errors.WithContext(err, "open config")
	}

	dir, err := util.OpenHost(hostPath)
	if err != nil {
		return errors.WithContext(err, "open host directory")
	}

	pp := util.NewProgressPrinter(os.Stdout, "Checking mirrors...")
	go pp.Run()

	clock := clockwork.NewRealClock()
	engine := sync.NewEngine(store, dir, clock)
	report, err := reconcile.New(store, dir, engine, clock).Run(context.Background())
	pp.StopWithPrint(util.ClearProgress)
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d mirrors: removed %d, failed %d.\n",
		report.Checked, report.Removed, report.Failed)
	for _, reason := range report.Reasons {
		fmt.Printf("  - %s\n", reason)
	}
	return nil
}
