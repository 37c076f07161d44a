package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Class buckets every venue error by how the caller must react.
type Class int

const (
	// ClassTransient errors are safe to retry with backoff.
	ClassTransient Class = iota
	// ClassPermanent errors must surface to the caller immediately.
	ClassPermanent
	// ClassAmbiguous means an order may or may not have executed
	// venue-side. Never retried; flagged for reconciliation.
	ClassAmbiguous
	// ClassCritical halts trading on the venue until an operator reset.
	ClassCritical
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "TRANSIENT"
	case ClassPermanent:
		return "PERMANENT"
	case ClassAmbiguous:
		return "AMBIGUOUS"
	case ClassCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Kind is the structured reason attached to a venue error. Callers branch
// on kinds, never on message text.
type Kind string

const (
	KindNetwork     Kind = "NETWORK_ERROR"
	KindTimeout     Kind = "TIMEOUT"
	KindRateLimited Kind = "RATE_LIMITED"

	KindAuth              Kind = "AUTH_ERROR"
	KindUnsupportedKind   Kind = "UNSUPPORTED_ORDER_KIND"
	KindUnitMismatch      Kind = "UNIT_MISMATCH"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindInvalidInstrument Kind = "INVALID_INSTRUMENT"
	KindOrderNotFound     Kind = "ORDER_NOT_FOUND"
	KindUnavailable       Kind = "CONNECTION_UNAVAILABLE"
	KindUnknownVenue      Kind = "UNKNOWN_VENUE_ERROR"

	KindAmbiguous Kind = "AMBIGUOUS_RESULT"

	KindSessionDuplicated Kind = "SESSION_DUPLICATED"
	KindStateCorrupted    Kind = "STATE_CORRUPTED"
)

// Class maps a kind onto its handling bucket.
func (k Kind) Class() Class {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimited:
		return ClassTransient
	case KindAmbiguous:
		return ClassAmbiguous
	case KindSessionDuplicated, KindStateCorrupted:
		return ClassCritical
	default:
		return ClassPermanent
	}
}

// Error is a classified venue failure.
type Error struct {
	Venue ID
	Kind  Kind
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Venue, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a classified venue error with a formatted message.
func Errf(v ID, kind Kind, format string, args ...any) *Error {
	return &Error{Venue: v, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr classifies an underlying error.
func WrapErr(v ID, kind Kind, err error) *Error {
	return &Error{Venue: v, Kind: kind, Err: err}
}

// KindOf extracts the taxonomy kind from any error. Deadline and network
// failures from the transport show up here as TIMEOUT / NETWORK_ERROR even
// when the adapter forgot to classify them. Anything unrecognized maps to
// UNKNOWN_VENUE_ERROR so it is never silently dropped.
func KindOf(err error) Kind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindUnknownVenue
}

// ClassOf is KindOf followed by the class mapping.
func ClassOf(err error) Class {
	return KindOf(err).Class()
}

// Retryable reports whether an error is safe to hand to a retry policy.
func Retryable(err error) bool {
	return ClassOf(err) == ClassTransient
}
