// Package status implements the `status` command: a table of every
// alternative and its mirrors.
package status

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/buger/goterm"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
)

// Mocked for unit testing.
var stdout io.Writer = os.Stdout

// New creates a new `status` command.
func New() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every alternative and the state of its mirrors.",
		Run: func(_ *cobra.Command, _ []string) {
			store, err := util.OpenStore(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "open config"))
			}
			printStatus(store)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	return cmd
}

func printStatus(store *config.Store) {
	alts := store.Alternatives()
	if len(alts) == 0 {
		fmt.Fprintln(stdout, "No alternatives configured.")
		return
	}

	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Alternative", "Source", "Status", "Files", "Last Synced"})
	table.SetAutoWrapText(false)

	defaultID := store.Settings().DefaultAlternativeID
	for _, alt := range alts {
		name := alt.Name
		if alt.ID == defaultID {
			name += " (default)"
		}

		if len(alt.Mirrors) == 0 {
			table.Append([]string{name, "-", "-", "-", "-"})
			continue
		}
		for _, m := range alt.Mirrors {
			table.Append([]string{
				name,
				m.SourceLibraryName,
				statusString(m),
				fmt.Sprintf("%d", m.LastFileCount),
				lastSyncedString(m),
			})
		}
	}
	table.Render()
}

func statusString(m config.Mirror) string {
	color := goterm.BLACK
	switch m.Status {
	case config.StatusPending:
		color = goterm.YELLOW
	case config.StatusSyncing:
		color = goterm.YELLOW
	case config.StatusSynced:
		color = goterm.GREEN
	case config.StatusError:
		color = goterm.RED
	}

	msg := m.Status
	if m.Status == config.StatusError && m.LastError != "" {
		msg += ": " + m.LastError
	}
	return goterm.Color(msg, color)
}

func lastSyncedString(m config.Mirror) string {
	if m.LastSyncedAt == nil {
		return "never"
	}
	return m.LastSyncedAt.Local().Format(time.RFC3339)
}
