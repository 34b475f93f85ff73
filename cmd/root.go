package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	applyCmd "github.com/lingomirror/lingomirror/cmd/apply"
	cleanupCmd "github.com/lingomirror/lingomirror/cmd/cleanup"
	createCmd "github.com/lingomirror/lingomirror/cmd/create"
	deleteCmd "github.com/lingomirror/lingomirror/cmd/delete"
	statusCmd "github.com/lingomirror/lingomirror/cmd/status"
	syncCmd "github.com/lingomirror/lingomirror/cmd/sync"
	"github.com/lingomirror/lingomirror/cmd/util"
	versionCmd "github.com/lingomirror/lingomirror/cmd/version"
	watchCmd "github.com/lingomirror/lingomirror/cmd/watch"
)

// verboseLogKey is the environment variable used to enable verbose logging.
// When it's set to `true`, Debug events are logged, rather than just Info and
// above.
const verboseLogKey = "LINGOMIRROR_LOG_VERBOSE"

// Execute runs the main CLI process.
func Execute() {
	if os.Getenv(verboseLogKey) == "true" {
		log.SetLevel(log.DebugLevel)
	}

	rootCmd := &cobra.Command{
		Use:          "lingomirror",
		SilenceUsage: true,

		// The call to rootCmd.Execute prints the error, so we silence errors
		// here to avoid double printing.
		SilenceErrors: true,
	}
	rootCmd.AddCommand(
		applyCmd.New(),
		cleanupCmd.New(),
		createCmd.New(),
		deleteCmd.New(),
		statusCmd.New(),
		syncCmd.New(),
		versionCmd.New(),
		watchCmd.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		util.HandleFatalError(err)
	}
}
