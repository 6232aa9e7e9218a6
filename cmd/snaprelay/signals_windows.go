//go:build windows

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/floegence/snaprelay/relay/server"
	gologging "gopkg.in/op/go-logging.v1"
)

func notifySignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func printSignalHelp(w io.Writer) {
	fmt.Fprintln(w, "Signals:")
	fmt.Fprintln(w, "  CTRL+C: shutdown")
}

// handleSignal returns true if the signal was handled and the server should keep running.
//
// Windows has no runtime toggles; any signal triggers shutdown.
func handleSignal(_ os.Signal, _ *gologging.Logger, _ *server.Server, _ *metricsController) bool {
	return false
}
