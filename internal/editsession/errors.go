// internal/editsession/errors.go
package editsession

import (
	"errors"
	"fmt"

	"familymiles/internal/loyalty"
)

// Kind classifies edit-session failures.
type Kind int

const (
	KindNotEnrolled Kind = iota + 1
	KindSaveInProgress
	KindPersistenceFailure
	KindValidationWarning
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotEnrolled:
		return "not_enrolled"
	case KindSaveInProgress:
		return "save_in_progress"
	case KindPersistenceFailure:
		return "persistence_failure"
	case KindValidationWarning:
		return "validation_warning"
	case KindConflict:
		return "conflict"
	}
	return "unknown"
}

// Sentinels for errors.Is; every *Error matches the sentinel of its Kind.
var (
	ErrNotEnrolled        = errors.New("member is not enrolled in this program")
	ErrSaveInProgress     = errors.New("a save is already in flight for this record")
	ErrPersistenceFailure = errors.New("persistence failure")
	ErrValidationWarning  = errors.New("value coerced")
	ErrConflict           = errors.New("record changed since the session was opened")
)

var sentinels = map[Kind]error{
	KindNotEnrolled:        ErrNotEnrolled,
	KindSaveInProgress:     ErrSaveInProgress,
	KindPersistenceFailure: ErrPersistenceFailure,
	KindValidationWarning:  ErrValidationWarning,
	KindConflict:           ErrConflict,
}

// ErrVersionConflict is returned by a Persister when the base version it was
// given is stale. The manager reports it as KindConflict.
var ErrVersionConflict = errors.New("version conflict")

// Error carries the kind and the record key of a failed operation.
type Error struct {
	Kind  Kind
	Key   loyalty.Key
	Field loyalty.Field
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s", e.Kind, e.Key)
	if e.Field != "" {
		msg += " field " + string(e.Field)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}

// IsWarning reports whether err is a non-fatal validation warning.
func IsWarning(err error) bool {
	return errors.Is(err, ErrValidationWarning)
}

func newError(kind Kind, key loyalty.Key, err error) *Error {
	return &Error{Kind: kind, Key: key, Err: err}
}
