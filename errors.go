package main

import "errors"

var (
	ErrAlreadyInSession = errors.New("participant already bound to an open session")
	ErrWrongState       = errors.New("message not permitted in current session state")
	ErrNotBound         = errors.New("connection is not bound to this session")
	ErrGoalLatched      = errors.New("actor already reached a goal this trial")
	ErrUnknownDirection = errors.New("unknown direction")
	ErrNoCandidate      = errors.New("no cell satisfies distance condition")
	ErrSessionClosed    = errors.New("session closed")
	ErrUnknownSession   = errors.New("unknown session")
	ErrBadGoalRequest   = errors.New("invalid goal request")
	ErrDuplicateMessage = errors.New("duplicate message")
	ErrUnknownKind      = errors.New("unknown session kind")
	ErrBadJoin          = errors.New("invalid join request")
)

// ErrorKind is the user-facing class of a rejection.
type ErrorKind string

const (
	KindProtocolViolation  ErrorKind = "ProtocolViolation"
	KindValidationFailure  ErrorKind = "ValidationFailure"
	KindResourceExhaustion ErrorKind = "ResourceExhaustion"
	KindPartnerLoss        ErrorKind = "PartnerLoss"
	KindDuplicateRequest   ErrorKind = "DuplicateRequest"
)

func kindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCandidate):
		return KindResourceExhaustion
	case errors.Is(err, ErrDuplicateMessage):
		return KindDuplicateRequest
	case errors.Is(err, ErrSessionClosed):
		return KindPartnerLoss
	case errors.Is(err, ErrGoalLatched),
		errors.Is(err, ErrUnknownDirection),
		errors.Is(err, ErrBadGoalRequest),
		errors.Is(err, ErrUnknownKind),
		errors.Is(err, ErrBadJoin):
		return KindValidationFailure
	default:
		return KindProtocolViolation
	}
}
