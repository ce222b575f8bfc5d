// Package remote defines the contract between the reconciling repositories
// and the authoritative remote document store, and the fault taxonomy every
// adapter maps its transport errors onto.
//
// Adapters make exactly one attempt per call. Retrying is the caller's
// decision.
package remote

import (
	"context"
	"errors"
	"fmt"
)

// Source is the authoritative copy of one collection.
type Source[T any] interface {
	// FetchAll returns every document in the collection.
	FetchAll(ctx context.Context) ([]T, error)
	// FetchByID returns one document. A missing document is a NotFound fault.
	FetchByID(ctx context.Context, id string) (T, error)
	// FetchByOwner returns the documents owned by ownerID.
	FetchByOwner(ctx context.Context, ownerID string) ([]T, error)
	// Push writes item, replacing any document with the same id, and returns
	// the document as the remote stored it.
	Push(ctx context.Context, item T) (T, error)
}

// Kind classifies a remote failure.
type Kind int

const (
	// Unknown covers every failure that fits no other kind.
	Unknown Kind = iota
	// Unreachable means the remote could not be contacted in time.
	Unreachable
	// Unauthenticated means the credentials were rejected.
	Unauthenticated
	// PermissionDenied means the credentials lack access to the collection.
	PermissionDenied
	// NotFound means the requested document does not exist.
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case Unauthenticated:
		return "unauthenticated"
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Fault is the error every [Source] returns.
type Fault struct {
	Kind Kind
	// Op names the failed call, e.g. "fetch all listings".
	Op string
	// Detail is an optional human-readable explanation from the remote.
	Detail string
	Err    error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("remote: %s: %s", f.Op, f.Kind)
	if f.Detail != "" {
		msg += " (" + f.Detail + ")"
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// KindOf returns the kind of the first Fault in err's chain. A context
// deadline is Unreachable; anything else without a Fault is Unknown.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Unreachable
	}
	return Unknown
}

// IsNotFound reports whether err is a NotFound fault.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == NotFound }

// IsFault reports whether err is (or wraps) a remote fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}

// Offline is a Source whose every call fails with Err. It stands in for a
// remote that could not be connected at startup, so cached reads keep
// working and refreshes report the connection failure.
type Offline[T any] struct {
	Err error
}

func (o Offline[T]) FetchAll(context.Context) ([]T, error) { return nil, o.Err }

func (o Offline[T]) FetchByID(context.Context, string) (T, error) {
	var zero T
	return zero, o.Err
}

func (o Offline[T]) FetchByOwner(context.Context, string) ([]T, error) { return nil, o.Err }

func (o Offline[T]) Push(context.Context, T) (T, error) {
	var zero T
	return zero, o.Err
}
