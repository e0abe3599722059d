package types

import (
	"errors"
	"fmt"
)

// Kind tags an error with the layer it came from so callers can branch on
// it without inspecting error text.
type Kind int

const (
	KindUnknown Kind = iota
	KindProbe
	KindEligibility
	KindGeneration
	KindPublish
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindProbe:
		return "probe"
	case KindEligibility:
		return "eligibility"
	case KindGeneration:
		return "generation"
	case KindPublish:
		return "publish"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf reports the Kind of the outermost tagged error in err's chain, or
// KindUnknown when the chain carries no tag.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
