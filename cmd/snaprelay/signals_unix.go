//go:build !windows

package main

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/floegence/snaprelay/relay/server"
	gologging "gopkg.in/op/go-logging.v1"
)

func notifySignals() []os.Signal {
	return []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	}
}

func printSignalHelp(w io.Writer) {
	fmt.Fprintln(w, "Signals:")
	fmt.Fprintln(w, "  SIGHUP: log connection and session counts")
	fmt.Fprintln(w, "  SIGUSR1: enable metrics (requires --metrics-listen)")
	fmt.Fprintln(w, "  SIGUSR2: disable metrics")
}

// handleSignal returns true if the signal was handled and the server should keep running.
func handleSignal(sig os.Signal, logger *gologging.Logger, srv *server.Server, metrics *metricsController) bool {
	switch sig {
	case syscall.SIGHUP:
		if srv != nil {
			st := srv.Stats()
			logger.Noticef("stats: conns=%d sessions=%d", st.ConnCount, st.SessionCount)
		}
		return true
	case syscall.SIGUSR1:
		if metrics == nil {
			logger.Warning("metrics server disabled (missing --metrics-listen)")
			return true
		}
		metrics.Enable()
		logger.Notice("metrics enabled")
		return true
	case syscall.SIGUSR2:
		if metrics != nil {
			metrics.Disable()
			logger.Notice("metrics disabled")
		}
		return true
	default:
		return false
	}
}
