// Package util holds helpers shared by the CLI subcommands: fatal error
// and panic handling, the progress printer, and wiring for the
// configuration store and host directory.
package util

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/buger/goterm"
	"github.com/jonboulle/clockwork"
	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"

	"github.com/lingomirror/lingomirror/pkg/config"
	"github.com/lingomirror/lingomirror/pkg/errors"
	"github.com/lingomirror/lingomirror/pkg/host"
)

// DefaultConfigPath is where the configuration document lives unless
// the user overrides it.
const DefaultConfigPath = "~/.lingomirror/lingomirror.yaml"

// DefaultHostPath is the default location of the host directory file.
const DefaultHostPath = "~/.lingomirror/host.yaml"

// ClearProgress erases the current progress line so the next print
// starts on a clean line.
var ClearProgress = goterm.RESET_LINE

// HandleFatalError prints a friendly version of err and exits.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic converts a panic into a printed report rather than a raw
// stack dump to the terminal. Deferred from main.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "lingomirror crashed: %v\n\n%s\n", r, debug.Stack())
	os.Exit(1)
}

// OpenStore opens the configuration store at path, expanding `~`.
func OpenStore(path string) (*config.Store, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.WithContext(err, "expand config path")
	}
	return config.NewStore(expanded, clockwork.NewRealClock())
}

// OpenHost opens the host directory file at path, expanding `~`.
func OpenHost(path string) (*host.FileDirectory, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.WithContext(err, "expand host path")
	}
	return host.OpenFileDirectory(expanded)
}

// ResolveAlternative finds an alternative by id or (case-insensitive)
// name, so commands can take either.
func ResolveAlternative(store *config.Store, ref string) (config.Alternative, error) {
	if alt, ok := store.Alternative(ref); ok {
		return alt, nil
	}
	for _, alt := range store.Alternatives() {
		if strings.EqualFold(alt.Name, ref) {
			return alt, nil
		}
	}
	return config.Alternative{}, errors.NotFoundError{Kind: "alternative", ID: ref}
}

// ProgressPrinter prints a message, followed by a period every second
// until it's stopped. Useful for assuring users that long operations
// are still making progress.
type ProgressPrinter struct {
	w    io.Writer
	msg  string
	stop chan struct{}
	done chan struct{}
}

// NewProgressPrinter returns a ProgressPrinter that writes to w.
func NewProgressPrinter(w io.Writer, msg string) *ProgressPrinter {
	return &ProgressPrinter{
		w:    w,
		msg:  msg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Run prints the message and starts ticking. Meant to be run in a
// goroutine.
func (pp *ProgressPrinter) Run() {
	defer close(pp.done)
	fmt.Fprint(pp.w, pp.msg)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-pp.stop:
			return
		case <-ticker.C:
			fmt.Fprint(pp.w, ".")
		}
	}
}

// Stop ends the ticking and moves to a fresh line.
func (pp *ProgressPrinter) Stop() {
	pp.StopWithPrint("\n")
}

// StopWithPrint ends the ticking and prints s, e.g. ClearProgress to
// erase the progress line entirely.
func (pp *ProgressPrinter) StopWithPrint(s string) {
	close(pp.stop)
	<-pp.done
	fmt.Fprint(pp.w, s)
}
