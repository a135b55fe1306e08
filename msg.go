package lattice

import (
	"encoding/binary"
	"fmt"

	"github.com/davecgh/go-xdr/xdr"
)

type (
	// ProcessID identifies a participant. Zero is reserved.
	ProcessID uint16

	// AgreementID identifies one lattice agreement instance.
	AgreementID uint32

	// Round is the active proposal number within an agreement.
	Round uint32
)

// Kind distinguishes payload-carrying messages from the transport's
// acknowledgments of them.
type Kind uint8

const (
	Echo Kind = iota
	Ack
)

func (k Kind) String() string {
	switch k {
	case Echo:
		return "echo"
	case Ack:
		return "ack"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Type is the lattice agreement payload type of a Msg.
type Type uint8

const (
	Proposal Type = iota
	AckReply
	NackReply
	Decided
)

func (t Type) String() string {
	switch t {
	case Proposal:
		return "PROPOSAL"
	case AckReply:
		return "ACK"
	case NackReply:
		return "NACK"
	case Decided:
		return "DECIDED"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// hasValues tells whether messages of type t carry a value set.
func (t Type) hasValues() bool {
	return t == Proposal || t == NackReply
}

const (
	// HeaderSize is the encoded size of a Msg without values.
	HeaderSize = 14

	// MaxDatagramSize is the largest UDP payload.
	MaxDatagramSize = 65507

	// MaxValues is the largest value set that fits in one datagram.
	MaxValues = (MaxDatagramSize - HeaderSize - 4) / 4
)

// MsgKey identifies a message for bookkeeping purposes. Two messages
// from the same source with equal keys are the same logical event,
// whatever values they carry.
type MsgKey struct {
	Agreement AgreementID
	Round     Round
	Type      Type
}

func (k MsgKey) String() string {
	return fmt.Sprintf("%s(%d,%d)", k.Type, k.Agreement, k.Round)
}

// Msg is a protocol message. Sender is the process transmitting this
// copy. Source is the process whose agreement state the message
// concerns: the proposer for PROPOSAL and DECIDED, the replier for ACK
// and NACK.
type Msg struct {
	Kind      Kind
	Sender    ProcessID
	Source    ProcessID
	Agreement AgreementID
	Round     Round
	Type      Type
	Values    ValueSet // PROPOSAL and NACK only
}

// NewMsg produces a new Echo message, checking its fields.
func NewMsg(sender, source ProcessID, a AgreementID, r Round, typ Type, values ValueSet) (*Msg, error) {
	msg := &Msg{
		Kind:      Echo,
		Sender:    sender,
		Source:    source,
		Agreement: a,
		Round:     r,
		Type:      typ,
		Values:    values,
	}
	if err := msg.check(); err != nil {
		return nil, err
	}
	return msg, nil
}

func (msg *Msg) check() error {
	if msg.Sender == 0 || msg.Source == 0 {
		return ErrReservedID
	}
	if msg.Kind > Ack {
		return fmt.Errorf("%w: bad kind %d", ErrMalformed, msg.Kind)
	}
	if msg.Type > Decided {
		return fmt.Errorf("%w: bad payload type %d", ErrMalformed, msg.Type)
	}
	if msg.Kind == Echo && !msg.Type.hasValues() && msg.Values != nil {
		return fmt.Errorf("%w: values on %s", ErrMalformed, msg.Type)
	}
	if len(msg.Values) > MaxValues {
		return ErrTooManyValues
	}
	if !msg.Values.valid() {
		return fmt.Errorf("%w: values not a sorted set", ErrMalformed)
	}
	return nil
}

// Key returns the bookkeeping identity of msg.
func (msg *Msg) Key() MsgKey {
	return MsgKey{Agreement: msg.Agreement, Round: msg.Round, Type: msg.Type}
}

// AckFor produces the transport acknowledgment of msg, sent by
// sender. It keeps msg's source and key so the original sender can
// match it.
func (msg *Msg) AckFor(sender ProcessID) *Msg {
	return &Msg{
		Kind:      Ack,
		Sender:    sender,
		Source:    msg.Source,
		Agreement: msg.Agreement,
		Round:     msg.Round,
		Type:      msg.Type,
	}
}

func (msg *Msg) String() string {
	s := fmt.Sprintf("%s %s src=%d via=%d", msg.Kind, msg.Key(), msg.Source, msg.Sender)
	if msg.Type.hasValues() && msg.Kind == Echo {
		s += " " + msg.Values.String()
	}
	return s
}

// MarshalBinary encodes msg in the wire format: a 14-byte big-endian
// header, then for PROPOSAL and NACK a counted array of 4-byte values.
// Ack envelopes of PROPOSAL and NACK carry an empty array.
func (msg *Msg) MarshalBinary() ([]byte, error) {
	if err := msg.check(); err != nil {
		return nil, err
	}

	buf := make([]byte, 5, HeaderSize+4+4*len(msg.Values))
	buf[0] = byte(msg.Kind)
	binary.BigEndian.PutUint16(buf[1:3], uint16(msg.Sender))
	binary.BigEndian.PutUint16(buf[3:5], uint16(msg.Source))

	for _, u := range []uint32{uint32(msg.Agreement), uint32(msg.Round)} {
		b, err := xdr.Marshal(u)
		if err != nil {
			return nil, err
		}
		buf = append(buf, b...)
	}
	buf = append(buf, byte(msg.Type))

	if !msg.Type.hasValues() {
		return buf, nil
	}

	vals := []int32(msg.Values)
	if msg.Kind == Ack || vals == nil {
		vals = []int32{}
	}
	b, err := xdr.Marshal(vals)
	if err != nil {
		return nil, err
	}
	return append(buf, b...), nil
}

// UnmarshalMsg decodes a datagram produced by MarshalBinary. Any
// deviation from the wire format, including a zero sender or source,
// yields an error wrapping ErrMalformed and no message.
func UnmarshalMsg(buf []byte) (*Msg, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: short buffer (%d bytes)", ErrMalformed, len(buf))
	}

	msg := &Msg{
		Kind:   Kind(buf[0]),
		Sender: ProcessID(binary.BigEndian.Uint16(buf[1:3])),
		Source: ProcessID(binary.BigEndian.Uint16(buf[3:5])),
		Type:   Type(buf[13]),
	}
	if msg.Sender == 0 || msg.Source == 0 {
		return nil, fmt.Errorf("%w: reserved process id", ErrMalformed)
	}
	if msg.Kind > Ack {
		return nil, fmt.Errorf("%w: bad kind %d", ErrMalformed, buf[0])
	}
	if msg.Type > Decided {
		return nil, fmt.Errorf("%w: bad payload type %d", ErrMalformed, buf[13])
	}

	var a, r uint32
	rest, err := xdr.Unmarshal(buf[5:9], &a)
	if err != nil || len(rest) != 0 {
		return nil, fmt.Errorf("%w: agreement id", ErrMalformed)
	}
	rest, err = xdr.Unmarshal(buf[9:13], &r)
	if err != nil || len(rest) != 0 {
		return nil, fmt.Errorf("%w: round", ErrMalformed)
	}
	msg.Agreement = AgreementID(a)
	msg.Round = Round(r)

	body := buf[HeaderSize:]
	if !msg.Type.hasValues() {
		if len(body) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes on %s", ErrMalformed, len(body), msg.Type)
		}
		return msg, nil
	}

	var count uint32
	if _, err = xdr.Unmarshal(body, &count); err != nil {
		return nil, fmt.Errorf("%w: value count", ErrMalformed)
	}
	if count > MaxValues || uint64(len(body)) != 4+4*uint64(count) {
		return nil, fmt.Errorf("%w: %d bytes for %d values", ErrMalformed, len(body), count)
	}
	if msg.Kind == Ack && count != 0 {
		return nil, fmt.Errorf("%w: values on ack envelope", ErrMalformed)
	}
	if count == 0 {
		return msg, nil
	}

	var vals []int32
	rest, err = xdr.Unmarshal(body, &vals)
	if err != nil || len(rest) != 0 {
		return nil, fmt.Errorf("%w: values", ErrMalformed)
	}
	msg.Values = ValueSet(vals)
	if !msg.Values.valid() {
		return nil, fmt.Errorf("%w: values not a sorted set", ErrMalformed)
	}
	return msg, nil
}
