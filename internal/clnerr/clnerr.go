// Package clnerr defines the error taxonomy shared across cln's
// components, and the exit codes the CLI maps them to.
package clnerr

import "errors"

// Kind classifies an error so the orchestrator and the CLI can react
// to it (choose an exit code, decide whether to log it as fatal).
type Kind int

const (
	// Generic covers errors with no more specific kind.
	Generic Kind = iota
	// MalformedArgs marks CLI misuse.
	MalformedArgs
	// RemoteFailure marks a subprocess or I/O failure talking to the remote.
	RemoteFailure
	// StoreIo marks a filesystem failure operating on the CAS.
	StoreIo
	// MaterialiseIo marks a filesystem failure on the target directory.
	MaterialiseIo
	// Corrupt marks a CAS entry whose content does not hash to its key.
	Corrupt
	// TargetNotEmpty marks a materialise attempt into a non-empty directory.
	TargetNotEmpty
	// Cancelled marks a cooperative cancellation.
	Cancelled
)

// Error is a clnerr.Kind tagged onto an underlying cause.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "ingest tree" or "resolve_ref"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given kind and operation label. A nil err
// returns nil, so New can be used directly as a return-statement wrapper.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// As extracts the clnerr.Kind of err, defaulting to Generic if err is
// not (or does not wrap) a *Error.
func As(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Generic
}

// ExitCode maps a Kind to the process exit code documented for cln.
func ExitCode(k Kind) int {
	switch k {
	case MalformedArgs:
		return 2
	case RemoteFailure:
		return 3
	case StoreIo:
		return 4
	case Cancelled:
		return 5
	case TargetNotEmpty:
		return 6
	case Corrupt:
		return 7
	case MaterialiseIo:
		return 1
	default:
		return 1
	}
}
