// Package logging provides the process-wide log backend built on go-logging.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/op/go-logging.v1"
)

// Backend hands out per-module loggers sharing one output and level.
type Backend struct {
	w       io.Writer
	backend logging.LeveledBackend
}

// New returns a backend writing to file f, or stderr when f is empty.
func New(f string, level string, disable bool) (*Backend, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var w io.Writer
	switch {
	case disable:
		w = io.Discard
	case f == "":
		w = os.Stderr
	default:
		fd, err := os.OpenFile(f, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("logging: open %s: %w", f, err)
		}
		w = fd
	}
	return NewWriter(w, lvl), nil
}

// NewWriter returns a backend writing to w at lvl.
func NewWriter(w io.Writer, lvl logging.Level) *Backend {
	logFmt := logging.MustStringFormatter("%{time:15:04:05.000} %{level:.4s} %{module}: %{message}")
	base := logging.NewLogBackend(w, "", 0)
	formatted := logging.NewBackendFormatter(base, logFmt)
	b := &Backend{w: w, backend: logging.AddModuleLevel(formatted)}
	b.backend.SetLevel(lvl, "")
	return b
}

// Discard returns a backend that drops everything.
func Discard() *Backend {
	return NewWriter(io.Discard, logging.CRITICAL)
}

// GetLogger returns a logger for module bound to b.
func (b *Backend) GetLogger(module string) *logging.Logger {
	l := logging.MustGetLogger(module)
	l.SetBackend(b.backend)
	return l
}

// ParseLevel maps a level name to a go-logging level. Matching is case-insensitive.
func ParseLevel(s string) (logging.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return logging.ERROR, nil
	case "WARNING", "WARN":
		return logging.WARNING, nil
	case "NOTICE", "":
		return logging.NOTICE, nil
	case "INFO":
		return logging.INFO, nil
	case "DEBUG":
		return logging.DEBUG, nil
	default:
		return logging.CRITICAL, fmt.Errorf("logging: invalid level %q", s)
	}
}
