package search

import (
	"errors"
	"fmt"
)

// Kind classifies a query failure so transports can map it to a status.
type Kind int

const (
	// KindCollaborator is an embedding oracle or vector store failure, timeouts included.
	KindCollaborator Kind = iota
	// KindValidation is malformed caller input.
	KindValidation
	// KindNotReady means the collaborators are not initialized.
	KindNotReady
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotReady:
		return "not_ready"
	default:
		return "collaborator"
	}
}

// Error is returned by every Service operation.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindCollaborator {
		return fmt.Sprintf("search failed: %v", e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Errors not produced by a Service count as collaborator failures.
func KindOf(err error) Kind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return KindCollaborator
}

func validationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Err: fmt.Errorf(format, args...)}
}
