// Package settings holds per-session configuration parameters.
//
// Values are strings keyed by lower-case parameter name, like the engine's
// own run-time parameters. Override changes a value for the duration of an
// operation and hands back a function that puts the previous value back.
package settings

import (
	"strconv"
	"strings"

	"github.com/puzpuzpuz/xsync/v3"
)

// Well-known parameter names.
const (
	QuoteAllIdentifiers = "quote_all_identifiers"
	SearchPath          = "search_path"
	ApplicationName     = "application_name"
)

// Defaults returns the values a new session starts with.
func Defaults() map[string]string {
	return map[string]string{
		QuoteAllIdentifiers: "off",
		SearchPath:          "dbo, sys, pg_catalog",
		ApplicationName:     "tsqlcompat",
	}
}

type entry struct {
	value string
	set   bool
}

// Settings is a set of parameters. It is safe for concurrent use so a
// configuration reload can update values while a session reads them.
type Settings struct {
	values *xsync.MapOf[string, string]
}

// New creates settings seeded with initial. A nil map means Defaults.
func New(initial map[string]string) *Settings {
	if initial == nil {
		initial = Defaults()
	}
	s := &Settings{values: xsync.NewMapOf[string, string]()}
	for k, v := range initial {
		s.values.Store(normalize(k), v)
	}
	return s
}

// Get returns the value of name and whether it is set.
func (s *Settings) Get(name string) (string, bool) {
	return s.values.Load(normalize(name))
}

// Set assigns a value.
func (s *Settings) Set(name, value string) {
	s.values.Store(normalize(name), value)
}

// Bool interprets a parameter as a boolean using the engine's spellings
// (on/off, true/false, yes/no, 1/0). Unset or unparsable values are false.
func (s *Settings) Bool(name string) bool {
	v, ok := s.Get(name)
	if !ok {
		return false
	}
	b, _ := ParseBool(v)
	return b
}

// List splits a comma-separated parameter such as search_path.
func (s *Settings) List(name string) []string {
	v, ok := s.Get(name)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Override sets name to value and returns a function restoring the previous
// state, including "unset". Callers defer the restore so it runs on every
// exit path.
func (s *Settings) Override(name, value string) (restore func()) {
	key := normalize(name)
	prev, existed := s.values.Load(key)
	saved := entry{value: prev, set: existed}
	s.values.Store(key, value)

	return func() {
		if saved.set {
			s.values.Store(key, saved.value)
		} else {
			s.values.Delete(key)
		}
	}
}

// Snapshot returns a copy of every parameter.
func (s *Settings) Snapshot() map[string]string {
	out := make(map[string]string, s.values.Size())
	s.values.Range(func(k, v string) bool {
		out[k] = v
		return true
	})
	return out
}

// ParseBool accepts on/off in addition to strconv's spellings.
func ParseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	return strconv.ParseBool(v)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
