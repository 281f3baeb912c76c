package query

import (
	"fmt"
	"io"

	"github.com/lib/pq/oid"
)

// Format is the per-parameter/column transfer format code carried on the
// wire (0 = text, 1 = binary).
type Format int16

const (
	TextFormat   Format = 0
	BinaryFormat Format = 1
)

// Value is the content of one parameter slot: null, a text encoding, a
// binary encoding, or a streamed binary source of known length. At most
// one of the byte/stream fields is meaningful, selected by isNull/stream.
type Value struct {
	set    bool
	isNull bool
	text   []byte
	binary []byte
	stream io.Reader
	length int
}

// NullValue constructs an explicitly-null parameter value.
func NullValue() Value { return Value{set: true, isNull: true} }

// TextValue constructs a text-encoded parameter value.
func TextValue(b []byte) Value { return Value{set: true, text: b} }

// BinaryValue constructs a binary-encoded parameter value.
func BinaryValue(b []byte) Value { return Value{set: true, binary: b} }

// StreamValue constructs a parameter value whose binary bytes are read
// lazily from r; length must be exact, since Bind needs it up front.
func StreamValue(r io.Reader, length int) Value {
	return Value{set: true, stream: r, length: length}
}

// IsSet reports whether the slot has been explicitly assigned (a value
// or an explicit null).
func (v Value) IsSet() bool { return v.set }

// IsNull reports whether the slot is an explicit SQL NULL.
func (v Value) IsNull() bool { return v.isNull }

// Bytes returns the wire-ready payload for this value and its encoded
// length, draining the stream source if that's what was set. -1 signals
// NULL per the wire convention.
func (v Value) Bytes(binary bool) (data []byte, length int32, err error) {
	if v.isNull {
		return nil, -1, nil
	}

	if v.stream != nil {
		buf := make([]byte, v.length)
		if _, err := io.ReadFull(v.stream, buf); err != nil {
			return nil, 0, fmt.Errorf("reading streamed parameter: %w", err)
		}

		return buf, int32(len(buf)), nil
	}

	if binary {
		return v.binary, int32(len(v.binary)), nil
	}

	return v.text, int32(len(v.text)), nil
}

// Parameter is one slot of a ParameterList: its value, its declared OID
// (Unspecified meaning "let the server infer"), and whether it should be
// bound in binary or text format.
type Parameter struct {
	Value  Value
	OID    oid.Oid
	Binary bool
}

// ParameterList is an ordered collection of parameter slots bound to a
// Query at Bind time.
type ParameterList struct {
	slots []Parameter
}

// NewParameterList allocates a list of n unset parameter slots.
func NewParameterList(n int) *ParameterList {
	return &ParameterList{slots: make([]Parameter, n)}
}

// Len returns the number of slots.
func (p *ParameterList) Len() int { return len(p.slots) }

// Get returns a copy of slot i.
func (p *ParameterList) Get(i int) Parameter { return p.slots[i] }

// SetNull marks slot i as an explicit SQL NULL.
func (p *ParameterList) SetNull(i int, parameterOID oid.Oid) {
	p.slots[i] = Parameter{Value: NullValue(), OID: parameterOID}
}

// SetText assigns slot i a text-encoded value.
func (p *ParameterList) SetText(i int, v []byte, parameterOID oid.Oid) {
	p.slots[i] = Parameter{Value: TextValue(v), OID: parameterOID}
}

// SetBinary assigns slot i a binary-encoded value.
func (p *ParameterList) SetBinary(i int, v []byte, parameterOID oid.Oid) {
	p.slots[i] = Parameter{Value: BinaryValue(v), OID: parameterOID, Binary: true}
}

// SetStream assigns slot i a streamed binary source of known length.
func (p *ParameterList) SetStream(i int, r io.Reader, length int, parameterOID oid.Oid) {
	p.slots[i] = Parameter{Value: StreamValue(r, length), OID: parameterOID, Binary: true}
}

// OIDs returns the declared OID of every slot, in order.
func (p *ParameterList) OIDs() []oid.Oid {
	out := make([]oid.Oid, len(p.slots))
	for i, s := range p.slots {
		out[i] = s.OID
	}

	return out
}

// AllSet reports whether every slot has been explicitly set or declared
// null — the invariant required before execute (§3: "attempting
// execute with unset slots fails"). Describe-only calls do not require
// this.
func (p *ParameterList) AllSet() bool {
	for _, s := range p.slots {
		if !s.Value.IsSet() {
			return false
		}
	}

	return true
}

// AdoptOIDs fills in the OID of every still-Unspecified slot from known,
// matching the Query's previously-described parameter OIDs (§4.2
// step 3: "adopt the Query's previously-described OIDs into the
// ParameterList").
func (p *ParameterList) AdoptOIDs(known []oid.Oid) {
	for i := range p.slots {
		if p.slots[i].OID == Unspecified && i < len(known) {
			p.slots[i].OID = known[i]
		}
	}
}

// Sub returns the slice of slots [offset, offset+n) as a fresh
// ParameterList, used to carry one sub-query's share of a Composite
// query's flat parameter list into its own Bind.
func (p *ParameterList) Sub(offset, n int) *ParameterList {
	out := &ParameterList{slots: make([]Parameter, n)}
	copy(out.slots, p.slots[offset:offset+n])
	return out
}
