// Package gatewayerr defines the client-facing error taxonomy of spec.md
// §7: PROTOCOL, NOTFOUND, DB_ERROR, NOT_LEADER, IO, BUSY. Errors inside
// the pool/planner/fsm are a different, fatal category entirely — see
// internal/fatal — and never construct a gatewayerr.Error.
package gatewayerr

import "fmt"

// Kind is one of the error kinds spec.md §7 names.
type Kind int

const (
	// Protocol indicates a malformed or out-of-sequence request; the
	// gateway MUST close the connection after reporting it (spec.md §4.6).
	Protocol Kind = iota
	// NotFound indicates an unknown db or statement id.
	NotFound
	// DBError wraps a SQLite result code, extended code, and description.
	DBError
	// NotLeader indicates the node receiving a proposal is not the
	// current consensus leader; carries a leader hint.
	NotLeader
	// IO indicates a local disk or VFS failure.
	IO
	// Busy indicates replication is already in flight for this database;
	// the client should retry after back-off.
	Busy
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "PROTOCOL"
	case NotFound:
		return "NOTFOUND"
	case DBError:
		return "DB_ERROR"
	case NotLeader:
		return "NOT_LEADER"
	case IO:
		return "IO"
	case Busy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Error is the concrete type every client-facing error in this module
// takes. It wraps an underlying cause (if any) with %w, per stdlib
// convention.
type Error struct {
	Kind Kind

	// Code and ExtendedCode are populated for Kind == DBError, carrying
	// the SQLite result code passthrough spec.md §6/§7 describes.
	Code, ExtendedCode int

	// LeaderHint is populated for Kind == NotLeader.
	LeaderHint string

	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Description is the UTF-8 text spec.md §6 puts in a DB_ERROR wire
// response's description field — the bare message and cause, without the
// Kind prefix Error() carries for Go-side logging (spec.md §8 scenario 5
// gives this as the literal string "failed to handle exec: no stmt with
// id 666", with the NOTFOUND kind reported separately).
func (e *Error) Description() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// NotFoundf builds a NotFound error, matching spec.md §8 scenario 5's
// exact phrasing convention ("failed to handle exec: no stmt with id
// 666").
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Message: fmt.Sprintf(format, args...)}
}

// Protocolf builds a Protocol error.
func Protocolf(format string, args ...any) *Error {
	return &Error{Kind: Protocol, Message: fmt.Sprintf(format, args...)}
}

// DBErrorf wraps a SQLite failure as a DBError.
func DBErrorf(code, extendedCode int, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:         DBError,
		Code:         code,
		ExtendedCode: extendedCode,
		Message:      fmt.Sprintf(format, args...),
		Cause:        cause,
	}
}

// NotLeaderf builds a NotLeader error carrying the current leader hint.
func NotLeaderf(leaderHint string, format string, args ...any) *Error {
	return &Error{Kind: NotLeader, LeaderHint: leaderHint, Message: fmt.Sprintf(format, args...)}
}

// IOf builds an IO error.
func IOf(cause error, format string, args ...any) *Error {
	return &Error{Kind: IO, Cause: cause, Message: fmt.Sprintf(format, args...)}
}

// Busyf builds a Busy error.
func Busyf(format string, args ...any) *Error {
	return &Error{Kind: Busy, Message: fmt.Sprintf(format, args...)}
}
