package store

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/tarimpazar/agrisync/internal/model"
)

// FaultKind classifies a local storage failure.
type FaultKind int

const (
	// IOError covers disk, locking and query failures.
	IOError FaultKind = iota
	// ConstraintViolation means a row broke a schema constraint
	// (e.g. a negative price).
	ConstraintViolation
)

func (k FaultKind) String() string {
	if k == ConstraintViolation {
		return "constraint violation"
	}
	return "io error"
}

// Fault is returned by every store operation that fails.
type Fault struct {
	Kind FaultKind
	Op   string
	Err  error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("store: %s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }

// wrap converts err into a *Fault. Sqlite constraint errors and entity
// validation errors are ConstraintViolations.
// A nil err stays nil and an existing *Fault is returned unchanged.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return err
	}
	kind := IOError
	var se sqlite3.Error
	var ve *model.ValidationError
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint || errors.As(err, &ve) {
		kind = ConstraintViolation
	}
	return &Fault{Kind: kind, Op: op, Err: err}
}

// IsFault reports whether err is (or wraps) a store fault.
func IsFault(err error) bool {
	var f *Fault
	return errors.As(err, &f)
}
