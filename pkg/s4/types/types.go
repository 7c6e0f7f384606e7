// Package types holds the small value types, error kinds, and the
// logger interface shared by every other package in the module.
package types

import "fmt"

// Key is a client-supplied path of the form "s4://bucket/key".
type Key string

// Address is a "host:port" pair, normalized the same way a server
// normalizes its own listen address for ownership comparisons.
type Address string

// ErrorKind discriminates the handful of error conditions the HTTP
// surface needs to map to distinct status codes.
type ErrorKind int

const (
	// Conflict: the key already exists, or this server does not own it.
	Conflict ErrorKind = iota
	// NotFound: no such key.
	NotFound
	// Overloaded: a pool is saturated or the started-gate timed out.
	Overloaded
	// UserCommandFailed: the user's shell command exited nonzero or timed out.
	UserCommandFailed
	// Integrity: a checksum mismatch or a nonzero transfer exit.
	Integrity
	// Config: the server list or some other startup configuration is invalid.
	Config
)

func (k ErrorKind) String() string {
	switch k {
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Overloaded:
		return "overloaded"
	case UserCommandFailed:
		return "user_command_failed"
	case Integrity:
		return "integrity"
	case Config:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the typed error every s4 package returns for conditions the
// HTTP surface must render as a specific status code. Diagnostic is the
// optional {stdout, stderr, exitcode} triple for UserCommandFailed and
// Integrity errors.
type Error struct {
	Kind       ErrorKind
	Message    string
	Diagnostic *Diagnostic
}

// Diagnostic carries the stdout/stderr/exitcode triple surfaced to
// clients on UserCommandFailed (400) and Integrity (500) errors.
type Diagnostic struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitcode"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError builds an *Error with no diagnostic.
func NewError(kind ErrorKind, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...)}
}

// NewDiagnosticError builds an *Error carrying a {stdout,stderr,exitcode}
// diagnostic triple.
func NewDiagnosticError(kind ErrorKind, diag *Diagnostic, format string, a ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, a...), Diagnostic: diag}
}

// ListEntry is one row of a list/list_buckets response: date, time,
// size-as-string (or "PRE" for a synthesized directory entry), and the
// path relative to the queried prefix.
type ListEntry struct {
	Date string
	Time string
	Size string
	Path string
}

// MarshalTuple renders the entry as the four-element array the wire
// protocol expects instead of a JSON object.
func (e ListEntry) MarshalTuple() [4]string {
	return [4]string{e.Date, e.Time, e.Size, e.Path}
}

// Logger is the leveled logging interface every package in this module
// depends on instead of depending on a concrete logging library
// directly. See types.NewDefaultLogger for the default implementation.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	ToggleDebug(value bool) bool

	// WithField returns a derived Logger that includes the given
	// structured field on every subsequent message.
	WithField(key string, value interface{}) Logger
}
