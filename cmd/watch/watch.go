// Package watch implements the `watch` command: a long-running loop
// that re-syncs mirrors whenever their source trees change.
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/fswatch"
	"github.com/lingomirror/lingomirror/pkg/host"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

// debounce is how long the watcher waits after the first change signal
// before syncing, so a burst of file copies lands in one pass.
const debounce = 2 * time.Second

// New creates a new `watch` command.
func New() *cobra.Command {
	var configPath, hostPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch mirror sources and re-sync on changes. Runs until interrupted.",
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

	roots, err := sourceRoots(store, dir)
	if err != nil {
		return err
	}
	if len(roots) == 0 {
		return errors.NewFriendlyError(
			"There are no mirrors to watch. Create one with `lingomirror create mirror`.")
	}

	settings := store.Settings()
	classifier := sync.NewClassifier(
		settings.ExcludedDirectories, settings.ExcludedExtensions)

	changes, err := fswatch.Watch(roots, classifier)
	if err != nil {
		return errors.WithContext(err, "watch sources")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	engine := sync.NewEngine(store, dir, clockwork.NewRealClock())
	fmt.Printf("Watching %d source trees. Press Ctrl+C to stop.\n", len(roots))

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
		}

		// Let the burst settle before syncing.
		timer := time.NewTimer(debounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if err := engine.SyncAll(ctx, nil); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("Sync pass failed. Waiting for the next change.")
		}
	}
}

// sourceRoots collects every mirror's source library paths,
// deduplicated.
func sourceRoots(store *config.Store, libraries host.Libraries) ([]string, error) {
	seen := map[string]bool{}
	var roots []string
	for _, alt := range store.Alternatives() {
		for _, m := range alt.Mirrors {
			lib, err := libraries.Get(m.SourceLibraryID)
			if err != nil {
				var notFound errors.NotFoundError
				if errors.As(err, &notFound) {
					log.WithField("library", m.SourceLibraryName).
						Warn("Source library is gone. Run `lingomirror cleanup`.")
					continue
				}
				return nil, errors.WithContext(err, "get source library")
			}
			for _, path := range lib.Paths {
				if !seen[path] {
					seen[path] = true
					roots = append(roots, path)
				}
			}
		}
	}
	return roots, nil
}
