// Package cmdutil holds the small pieces shared by the snaprelay binaries:
// prefixed environment lookups, usage errors, and JSON output.
package cmdutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Env reads configuration overrides from variables named Prefix + NAME.
//
// Unset or blank variables leave the current value untouched, so an Env can
// be layered over values that already came from a config file.
type Env struct {
	Prefix string
}

// Key returns the full variable name for name.
func (e Env) Key(name string) string { return e.Prefix + name }

func (e Env) lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(e.Key(name)))
	return v, v != ""
}

// String overrides *dst when the variable is set.
func (e Env) String(name string, dst *string) {
	if v, ok := e.lookup(name); ok {
		*dst = v
	}
}

// Bool overrides *dst when the variable is set and parses.
func (e Env) Bool(name string, dst *bool) error {
	v, ok := e.lookup(name)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return e.invalid(name, err)
	}
	*dst = b
	return nil
}

// Int overrides *dst when the variable is set and parses.
func (e Env) Int(name string, dst *int) error {
	v, ok := e.lookup(name)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return e.invalid(name, err)
	}
	*dst = n
	return nil
}

// Duration overrides *dst when the variable is set and parses.
func (e Env) Duration(name string, dst *time.Duration) error {
	v, ok := e.lookup(name)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return e.invalid(name, err)
	}
	*dst = d
	return nil
}

// CSV overrides *dst with the trimmed, non-empty comma-separated parts of
// the variable when it is set.
func (e Env) CSV(name string, dst *[]string) {
	v, ok := e.lookup(name)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func (e Env) invalid(name string, err error) error {
	return &UsageError{Msg: fmt.Sprintf("invalid %s: %v", e.Key(name), err)}
}
