package lattice

import "errors"

var (
	// ErrMalformed is returned when a datagram does not decode to a
	// well-formed Msg.
	ErrMalformed = errors.New("malformed message")

	// ErrNilValues is returned when proposing a nil value set.
	ErrNilValues = errors.New("nil value set")

	// ErrAlreadyProposed is returned by Propose for an agreement
	// this node has already proposed in.
	ErrAlreadyProposed = errors.New("already proposed")

	ErrNotMember   = errors.New("process is not a member")
	ErrReservedID  = errors.New("reserved process id")
	ErrUnknownPeer = errors.New("unknown peer")

	// ErrTooManyValues is returned when encoding a Msg whose value
	// set would not fit in one datagram.
	ErrTooManyValues = errors.New("too many values")
)
