// Package errs carries the download engine's error taxonomy.
//
// Errors are classified by Kind rather than by concrete type so that the
// orchestrator can render stable "failed: <kind>: <message>" status strings
// and the state store can persist the final classification.
package errs

import (
	"errors"
	"fmt"
)

// Kind identifies one class of failure in the engine's taxonomy.
type Kind string

const (
	// NetworkError covers transport, DNS, TLS, timeouts and non-2xx responses above the retry budget.
	NetworkError Kind = "network"
	// ParseError covers malformed HTML, JSON or playlists.
	ParseError Kind = "parse"
	// DeobfuscationError covers evaluator timeouts and missing media URLs.
	DeobfuscationError Kind = "deobfuscation"
	// UnsupportedFeature covers live playlists, byte ranges and unknown encryption methods.
	UnsupportedFeature Kind = "unsupported feature"
	// DecryptionError covers key fetch failures and padding or length violations.
	DecryptionError Kind = "decryption"
	// AssemblyError covers muxer non-zero exits and IO failures writing the final file.
	AssemblyError Kind = "assembly"
	// MissingDependency covers an absent muxer binary.
	MissingDependency Kind = "missing dependency"
	// Cancelled covers user-initiated aborts.
	Cancelled Kind = "cancelled"
	// EpisodeNotFound covers requested episode numbers absent from the catalog.
	EpisodeNotFound Kind = "episode not found"
)

// Error pairs an underlying cause with its taxonomy kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs a classified error from a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to an existing error. Already-classified errors keep
// their original kind so the first classification wins.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind of an error, or an empty Kind for
// unclassified errors.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return ""
}

// Is reports whether the error carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
