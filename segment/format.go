// Package segment implements the immutable columnar segment file: a writer
// that lays out compressed column pages, per-page zone maps and a sparse
// short-key index, and a reader that opens the file, prunes it with compiled
// scan predicates and iterates the surviving rows.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/amber-create/starrocks/types"
)

const (
	// Magic is the trailing file magic ("SRSG").
	Magic uint32 = 0x53525347

	// FormatVersion is the current footer format version.
	FormatVersion uint32 = 1

	// tailSize is the fixed-size file tail:
	// [u32 footer length][u32 footer crc32c][u32 magic].
	tailSize = 12

	// DefaultFooterLengthHint is how many trailing bytes Open reads first.
	// Footers larger than the hint cost one extra read.
	DefaultFooterLengthHint = 16 << 10
)

// ErrCorruptFooter is returned when the file tail or footer fails
// validation: bad magic, bad checksum, or truncated contents.
var ErrCorruptFooter = errors.New("segment: corrupt footer")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CompressionCodec identifies the per-page compression.
type CompressionCodec uint8

const (
	CodecNone CompressionCodec = iota
	CodecS2
	CodecLZ4
)

// String returns the codec name.
func (c CompressionCodec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecS2:
		return "s2"
	case CodecLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// PageMeta locates one column page and carries its pruning metadata.
type PageMeta struct {
	Offset uint64
	Size   uint64
	// FirstRow is the segment-wide ordinal of the page's first row.
	FirstRow uint32
	NumRows  uint32
	Codec    CompressionCodec

	// Zone map. Min and Max are NULL datums when every row in the page is
	// null; HasNulls reports whether any row is.
	Min      types.Datum
	Max      types.Datum
	HasNulls bool
}

// ColumnMeta describes one column of the segment.
type ColumnMeta struct {
	ID       uint32
	Name     string
	Type     types.LogicalType
	Nullable bool
	// NDV is the estimated number of distinct values, from a hyperloglog
	// sketch taken at write time.
	NDV   uint64
	Pages []PageMeta
}

// Footer is the parsed segment footer.
type Footer struct {
	Version      uint32
	NumRows      uint32
	RowsPerBlock uint32

	// NumShortKeyColumns is the key-prefix length covered by the short-key
	// index.
	NumShortKeyColumns uint32
	ShortKeyOffset     uint64
	ShortKeySize       uint64

	Columns []ColumnMeta
}

// ColumnByName returns the meta of the named column, or nil.
func (f *Footer) ColumnByName(name string) *ColumnMeta {
	for i := range f.Columns {
		if f.Columns[i].Name == name {
			return &f.Columns[i]
		}
	}
	return nil
}

type footerEncoder struct {
	buf []byte
}

func (e *footerEncoder) u8(v uint8)   { e.buf = append(e.buf, v) }
func (e *footerEncoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *footerEncoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *footerEncoder) str(s string) {
	e.u32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *footerEncoder) datum(d types.Datum) {
	e.u8(uint8(d.Kind()))
	switch d.Kind() {
	case types.KindNull:
	case types.KindInt, types.KindDate, types.KindTimestamp, types.KindDecimal:
		e.u64(uint64(d.Int64()))
	case types.KindFloat:
		e.u64(math.Float64bits(d.Float64()))
	case types.KindBool:
		if d.BoolValue() {
			e.u8(1)
		} else {
			e.u8(0)
		}
	case types.KindString:
		e.str(d.Str())
	}
}

// EncodeFooter serializes the footer followed by the fixed tail.
func EncodeFooter(f *Footer) []byte {
	var e footerEncoder
	e.u32(f.Version)
	e.u32(f.NumRows)
	e.u32(f.RowsPerBlock)
	e.u32(f.NumShortKeyColumns)
	e.u64(f.ShortKeyOffset)
	e.u64(f.ShortKeySize)
	e.u32(uint32(len(f.Columns)))
	for _, col := range f.Columns {
		e.u32(col.ID)
		e.str(col.Name)
		e.u8(uint8(col.Type))
		if col.Nullable {
			e.u8(1)
		} else {
			e.u8(0)
		}
		e.u64(col.NDV)
		e.u32(uint32(len(col.Pages)))
		for _, p := range col.Pages {
			e.u64(p.Offset)
			e.u64(p.Size)
			e.u32(p.FirstRow)
			e.u32(p.NumRows)
			e.u8(uint8(p.Codec))
			if p.HasNulls {
				e.u8(1)
			} else {
				e.u8(0)
			}
			e.datum(p.Min)
			e.datum(p.Max)
		}
	}

	body := e.buf
	out := make([]byte, 0, len(body)+tailSize)
	out = append(out, body...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = binary.LittleEndian.AppendUint32(out, crc32.Checksum(body, castagnoli))
	out = binary.LittleEndian.AppendUint32(out, Magic)
	return out
}

type footerDecoder struct {
	buf []byte
	off int
	err error
}

func (d *footerDecoder) fail() {
	if d.err == nil {
		d.err = ErrCorruptFooter
	}
}

func (d *footerDecoder) u8() uint8 {
	if d.err != nil || d.off+1 > len(d.buf) {
		d.fail()
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *footerDecoder) u32() uint32 {
	if d.err != nil || d.off+4 > len(d.buf) {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *footerDecoder) u64() uint64 {
	if d.err != nil || d.off+8 > len(d.buf) {
		d.fail()
		return 0
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *footerDecoder) str() string {
	n := int(d.u32())
	if d.err != nil || n < 0 || d.off+n > len(d.buf) {
		d.fail()
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

func (d *footerDecoder) datum() types.Datum {
	kind := types.Kind(d.u8())
	switch kind {
	case types.KindNull:
		return types.Null()
	case types.KindInt:
		return types.Int(int64(d.u64()))
	case types.KindDate:
		return types.Date(int64(d.u64()))
	case types.KindTimestamp:
		return types.Timestamp(int64(d.u64()))
	case types.KindDecimal:
		return types.Decimal(int64(d.u64()))
	case types.KindFloat:
		return types.Float(math.Float64frombits(d.u64()))
	case types.KindBool:
		return types.Bool(d.u8() != 0)
	case types.KindString:
		return types.String(d.str())
	default:
		d.fail()
		return types.Datum{}
	}
}

// DecodeFooter parses a footer body (without the tail).
func DecodeFooter(body []byte) (*Footer, error) {
	d := &footerDecoder{buf: body}
	f := &Footer{
		Version:            d.u32(),
		NumRows:            d.u32(),
		RowsPerBlock:       d.u32(),
		NumShortKeyColumns: d.u32(),
		ShortKeyOffset:     d.u64(),
		ShortKeySize:       d.u64(),
	}
	if f.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptFooter, f.Version)
	}
	numCols := int(d.u32())
	if d.err != nil {
		return nil, d.err
	}
	f.Columns = make([]ColumnMeta, 0, numCols)
	for i := 0; i < numCols; i++ {
		col := ColumnMeta{
			ID:       d.u32(),
			Name:     d.str(),
			Type:     types.LogicalType(d.u8()),
			Nullable: d.u8() != 0,
			NDV:      d.u64(),
		}
		numPages := int(d.u32())
		if d.err != nil {
			return nil, d.err
		}
		col.Pages = make([]PageMeta, 0, numPages)
		for j := 0; j < numPages; j++ {
			p := PageMeta{
				Offset:   d.u64(),
				Size:     d.u64(),
				FirstRow: d.u32(),
				NumRows:  d.u32(),
				Codec:    CompressionCodec(d.u8()),
				HasNulls: d.u8() != 0,
			}
			p.Min = d.datum()
			p.Max = d.datum()
			col.Pages = append(col.Pages, p)
		}
		f.Columns = append(f.Columns, col)
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(body) {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorruptFooter, len(body)-d.off)
	}
	return f, nil
}

// ParseTail validates the fixed file tail and returns the footer length.
func ParseTail(tail []byte) (footerLen uint32, footerCRC uint32, err error) {
	if len(tail) != tailSize {
		return 0, 0, ErrCorruptFooter
	}
	if binary.LittleEndian.Uint32(tail[8:]) != Magic {
		return 0, 0, fmt.Errorf("%w: bad magic", ErrCorruptFooter)
	}
	return binary.LittleEndian.Uint32(tail[0:]), binary.LittleEndian.Uint32(tail[4:]), nil
}

// VerifyFooter checks the footer body against the tail checksum.
func VerifyFooter(body []byte, wantCRC uint32) error {
	if crc32.Checksum(body, castagnoli) != wantCRC {
		return fmt.Errorf("%w: checksum mismatch", ErrCorruptFooter)
	}
	return nil
}
