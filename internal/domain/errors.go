// Package domain provides shared domain-level sentinel errors.
package domain

import (
	"errors"
	"strings"
)

// ErrNotFound indicates the requested symbol or document does not exist.
var ErrNotFound = errors.New("not found")

// ErrAmbiguous indicates several candidates share the top rank and the caller
// must choose one.
var ErrAmbiguous = errors.New("ambiguous reference")

// ErrStale indicates a result was computed against a superseded document version.
var ErrStale = errors.New("document version changed")

// Chain formats err and every wrapped cause as "a: b: c", skipping messages
// that merely repeat their cause's text.
func Chain(err error) string {
	if err == nil {
		return ""
	}
	var parts []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if next := errors.Unwrap(e); next != nil {
			msg = strings.TrimSuffix(msg, ": "+next.Error())
		}
		if msg != "" {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, ": ")
}
