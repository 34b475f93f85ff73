// Package create implements the `create` command: registering language
// alternatives and building their mirrors.
package create

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/lingomirror/lingomirror/cmd/util"
	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/sync"
)

// New creates a new `create` command.
func New() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a language alternative or a mirror within one.",
	}
	cmd.AddCommand(newAlternative(), newMirror())
	return cmd
}

func newAlternative() *cobra.Command {
	var configPath string
	var alt config.Alternative

	cmd := &cobra.Command{
		Use:   "alternative",
		Short: "Register a new language alternative.",
		Run: func(_ *cobra.Command, _ []string) {
			store, err := util.OpenStore(configPath)
			if err != nil {
				util.HandleFatalError(errors.WithContext(err, "open config"))
			}

			created, err := store.AddAlternative(alt)
			if err != nil {
				util.HandleFatalError(err)
			}
			fmt.Printf("Created alternative %q (%s)\n", created.Name, created.ID)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&alt.Name, "name", "",
		"Display name, e.g. \"Portuguese\". Must be unique.")
	cmd.Flags().StringVar(&alt.LanguageCode, "language", "",
		"BCP 47 language code for metadata, e.g. pt-BR.")
	cmd.Flags().StringVar(&alt.MetadataCountry, "country", "",
		"Country code for metadata lookups, e.g. BR.")
	cmd.Flags().StringVar(&alt.BasePath, "base-path", "",
		"Directory under which this alternative's mirror trees are created.")
	cobra.CheckErr(cmd.MarkFlagRequired("name"))
	cobra.CheckErr(cmd.MarkFlagRequired("language"))
	cobra.CheckErr(cmd.MarkFlagRequired("base-path"))
	return cmd
}

func newMirror() *cobra.Command {
	var configPath, hostPath string
	var altRef, sourceID, targetPath string

	cmd := &cobra.Command{
		Use:   "mirror",
		Short: "Mirror a source library into an alternative and sync it.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := createMirror(configPath, hostPath, altRef, sourceID,
				targetPath); err != nil {
				util.HandleFatalError(err)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", util.DefaultConfigPath,
		"Path to the configuration document.")
	cmd.Flags().StringVar(&hostPath, "host-file", util.DefaultHostPath,
		"Path to the host directory file.")
	cmd.Flags().StringVar(&altRef, "alternative", "",
		"Name or id of the alternative to mirror into.")
	cmd.Flags().StringVar(&sourceID, "source", "",
		"Id of the source library to mirror.")
	cmd.Flags().StringVar(&targetPath, "target", "",
		"Target directory for the hardlinked tree. "+
			"Defaults to <base-path>/<source library name>.")
	cobra.CheckErr(cmd.MarkFlagRequired("alternative"))
	cobra.CheckErr(cmd.MarkFlagRequired("source"))
	return cmd
}

func createMirror(configPath, hostPath, altRef, sourceID, targetPath string) error {
	store, err := util.OpenStore(configPath)
	if err != nil {
		return errors.WithContext(err, "open config")
	}

	dir, err := util.OpenHost(hostPath)
	if err != nil {
		return errors.WithContext(err, "open host directory")
	}

	alt, err := util.ResolveAlternative(store, altRef)
	if err != nil {
		return err
	}

	source, err := dir.Get(sourceID)
	if err != nil {
		return errors.WithContext(err, "get source library")
	}

	if targetPath == "" {
		if alt.BasePath == "" {
			return errors.NewValidationError(
				"no target path given and the alternative has no base path")
		}
		targetPath = filepath.Join(alt.BasePath, source.Name)
	}

	mirror, err := store.AddMirror(alt.ID, config.Mirror{
		SourceLibraryID:   source.ID,
		SourceLibraryName: source.Name,
		TargetPath:        targetPath,
		CollectionType:    source.CollectionType,
	})
	if err != nil {
		return err
	}

	msg := fmt.Sprintf("Mirroring %q into %q...", source.Name, targetPath)
	pp := util.NewProgressPrinter(os.Stdout, msg)
	go pp.Run()

	engine := sync.NewEngine(store, dir, clockwork.NewRealClock())
	err = engine.Create(context.Background(), alt.ID, mirror.ID)
	pp.Stop()
	if err != nil {
		return err
	}

	synced, _ := store.Mirror(alt.ID, mirror.ID)
	fmt.Printf("Mirrored %d files.\n", synced.LastFileCount)
	return nil
}
