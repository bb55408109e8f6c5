// Package ringerr defines the sentinel error kinds used across ringcmh.
// Peer misbehavior and transient failures are always reported as errors,
// never panics.
package ringerr

import "errors"

// Kind classifies an error into one of the five categories the wire
// protocol and control plane distinguish.
type Kind int

const (
	KindTransport Kind = iota
	KindOverlay
	KindResource
	KindCMH
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindOverlay:
		return "overlay"
	case KindResource:
		return "resource"
	case KindCMH:
		return "cmh"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Error wraps a message with its Kind so callers can branch on category
// with errors.As while still reading a normal error string.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Sentinel values for common conditions, matched with errors.Is.
var (
	ErrNodeUnreachable   = New(KindTransport, "node unreachable")
	ErrDialTimeout       = New(KindTransport, "dial timeout")
	ErrCallTimeout       = New(KindTransport, "call timeout")
	ErrConnectionClosed  = New(KindTransport, "connection closed")
	ErrNotInRing         = New(KindOverlay, "node not part of a ring")
	ErrUnknownNeighbor   = New(KindOverlay, "unknown neighbor")
	ErrAlreadyRepairing  = New(KindOverlay, "repair already in progress")
	ErrResourceNotFound  = New(KindResource, "resource not found")
	ErrResourceNotOwned  = New(KindResource, "resource not owned by this node")
	ErrNoOwnerFound      = New(KindResource, "no owner found for resource")
	ErrUnknownInitiator  = New(KindCMH, "unknown detection initiator")
	ErrPermissionDenied  = New(KindCMH, "permission denied")
	ErrNoRouteToPeer     = New(KindCMH, "no next hop to forward through")
	ErrMalformedEnvelope = New(KindProtocol, "malformed envelope")
	ErrUnknownMethod     = New(KindProtocol, "unknown rpc method")
)

// Is exposes errors.Is locally so call sites in this repo need only
// import ringerr.
func Is(err, target error) bool { return errors.Is(err, target) }
