// Package shortkey implements the sparse short-key index of a segment: an
// order-preserving encoding for key-column prefixes and an index page mapping
// every block of rows to the encoded key of its first row.
package shortkey

import (
	"encoding/binary"
	"math"

	"github.com/amber-create/starrocks/types"
)

// Column markers. NULL sorts before any present value; the max marker sorts
// after any column content, so a prefix key suffixed with it bounds every
// full key sharing that prefix.
const (
	markerNull    = 0x00
	markerPresent = 0x01
	markerMax     = 0xFF
)

// String terminator/escape. A 0x00 byte inside a string is escaped as
// 0x00 0xFF so the 0x00 0x00 terminator keeps byte order equal to string
// order.
const (
	strTerm   = 0x00
	strEscape = 0xFF
)

// Encoder builds an order-preserving byte encoding of a key-column prefix.
// Encoded tuples compare with bytes.Compare exactly like the original typed
// tuples compare column by column.
type Encoder struct {
	buf []byte
}

// Reset clears the encoder for reuse.
func (e *Encoder) Reset() { e.buf = e.buf[:0] }

// Bytes returns the encoded key. The slice is valid until the next Reset.
func (e *Encoder) Bytes() []byte { return e.buf }

// AppendDatum appends one key column value.
func (e *Encoder) AppendDatum(d types.Datum) {
	if d.IsNull() {
		e.buf = append(e.buf, markerNull)
		return
	}
	e.buf = append(e.buf, markerPresent)
	switch d.Kind() {
	case types.KindInt, types.KindDate, types.KindTimestamp, types.KindDecimal:
		e.appendOrderedUint64(uint64(d.Int64()) ^ (1 << 63))
	case types.KindBool:
		if d.BoolValue() {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case types.KindFloat:
		e.appendOrderedUint64(orderFloatBits(d.Float64()))
	case types.KindString:
		e.appendOrderedString(d.Str())
	}
}

// AppendMaxMarker turns the encoded prefix into an upper bound: the result
// compares greater than any full key extending the prefix. Only seek keys
// carry the marker; stored index keys never do.
func (e *Encoder) AppendMaxMarker() {
	e.buf = append(e.buf, markerMax)
}

func (e *Encoder) appendOrderedUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) appendOrderedString(s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		e.buf = append(e.buf, c)
		if c == strTerm {
			e.buf = append(e.buf, strEscape)
		}
	}
	e.buf = append(e.buf, strTerm, strTerm)
}

// orderFloatBits maps a float64 onto a uint64 whose unsigned order matches
// the float order (negative values reversed, sign bit flipped).
func orderFloatBits(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// EncodeTuple encodes a full key tuple in one call.
func EncodeTuple(vals []types.Datum) []byte {
	var e Encoder
	for _, v := range vals {
		e.AppendDatum(v)
	}
	out := make([]byte, len(e.Bytes()))
	copy(out, e.Bytes())
	return out
}
