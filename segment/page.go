package segment

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/s2"
	"github.com/pierrec/lz4/v4"

	"github.com/amber-create/starrocks/types"
)

// pageEncoder builds the plain-encoded body of one column page: a value
// count followed by a null flag and payload per value.
type pageEncoder struct {
	ltype types.LogicalType
	buf   []byte
	count uint32
}

func newPageEncoder(lt types.LogicalType) *pageEncoder {
	e := &pageEncoder{ltype: lt}
	e.buf = binary.LittleEndian.AppendUint32(e.buf, 0) // patched in finish
	return e
}

func (e *pageEncoder) append(v types.Datum) {
	e.count++
	if v.IsNull() {
		e.buf = append(e.buf, 1)
		return
	}
	e.buf = append(e.buf, 0)
	switch v.Kind() {
	case types.KindInt, types.KindDate, types.KindTimestamp, types.KindDecimal:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v.Int64()))
	case types.KindFloat:
		e.buf = binary.LittleEndian.AppendUint64(e.buf, math.Float64bits(v.Float64()))
	case types.KindBool:
		if v.BoolValue() {
			e.buf = append(e.buf, 1)
		} else {
			e.buf = append(e.buf, 0)
		}
	case types.KindString:
		e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(v.Str())))
		e.buf = append(e.buf, v.Str()...)
	}
}

func (e *pageEncoder) sizeBytes() int { return len(e.buf) }

func (e *pageEncoder) numValues() uint32 { return e.count }

// finish returns the compressed page body and the codec actually used.
// Compression is skipped when it does not shrink the page.
func (e *pageEncoder) finish(codec CompressionCodec) ([]byte, CompressionCodec, error) {
	binary.LittleEndian.PutUint32(e.buf, e.count)

	switch codec {
	case CodecNone:
		return e.buf, CodecNone, nil

	case CodecS2:
		compressed := s2.Encode(nil, e.buf)
		if len(compressed) >= len(e.buf) {
			return e.buf, CodecNone, nil
		}
		return compressed, CodecS2, nil

	case CodecLZ4:
		compressed := make([]byte, lz4.CompressBlockBound(len(e.buf)))
		var c lz4.Compressor
		n, err := c.CompressBlock(e.buf, compressed)
		if err != nil {
			return nil, CodecNone, err
		}
		if n == 0 || n >= len(e.buf) {
			// Incompressible page.
			return e.buf, CodecNone, nil
		}
		return compressed[:n], CodecLZ4, nil

	default:
		return nil, CodecNone, fmt.Errorf("segment: unsupported codec %s", codec)
	}
}

// decompressPage undoes the page codec. uncompressedHint sizes the buffer
// for LZ4, which does not carry its own length; pass 0 when unknown.
func decompressPage(body []byte, codec CompressionCodec, uncompressedHint int) ([]byte, error) {
	switch codec {
	case CodecNone:
		return body, nil
	case CodecS2:
		decoded, err := s2.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("segment: s2 page decode: %w", err)
		}
		return decoded, nil
	case CodecLZ4:
		size := uncompressedHint
		if size <= 0 {
			size = len(body) * 4
		}
		for {
			dst := make([]byte, size)
			n, err := lz4.UncompressBlock(body, dst)
			if err == nil {
				return dst[:n], nil
			}
			if size > 1<<30 {
				return nil, fmt.Errorf("segment: lz4 page decode: %w", err)
			}
			size *= 2
		}
	default:
		return nil, fmt.Errorf("segment: unsupported codec %s", codec)
	}
}

// parsePage decodes a plain (decompressed) page body into datums.
func parsePage(raw []byte, lt types.LogicalType) ([]types.Datum, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("segment: truncated page")
	}
	count := binary.LittleEndian.Uint32(raw)
	off := 4
	kind := types.KindOf(lt)

	values := make([]types.Datum, 0, count)
	for i := uint32(0); i < count; i++ {
		if off >= len(raw) {
			return nil, fmt.Errorf("segment: truncated page value %d", i)
		}
		isNull := raw[off] != 0
		off++
		if isNull {
			values = append(values, types.Null())
			continue
		}
		switch kind {
		case types.KindInt, types.KindDate, types.KindTimestamp, types.KindDecimal:
			if off+8 > len(raw) {
				return nil, fmt.Errorf("segment: truncated page value %d", i)
			}
			u := binary.LittleEndian.Uint64(raw[off:])
			off += 8
			switch kind {
			case types.KindInt:
				values = append(values, types.Int(int64(u)))
			case types.KindDate:
				values = append(values, types.Date(int64(u)))
			case types.KindTimestamp:
				values = append(values, types.Timestamp(int64(u)))
			default:
				values = append(values, types.Decimal(int64(u)))
			}
		case types.KindFloat:
			if off+8 > len(raw) {
				return nil, fmt.Errorf("segment: truncated page value %d", i)
			}
			values = append(values, types.Float(math.Float64frombits(binary.LittleEndian.Uint64(raw[off:]))))
			off += 8
		case types.KindBool:
			values = append(values, types.Bool(raw[off] != 0))
			off++
		case types.KindString:
			if off+4 > len(raw) {
				return nil, fmt.Errorf("segment: truncated page value %d", i)
			}
			n := int(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
			if off+n > len(raw) {
				return nil, fmt.Errorf("segment: truncated page value %d", i)
			}
			values = append(values, types.String(string(raw[off:off+n])))
			off += n
		default:
			return nil, fmt.Errorf("segment: unsupported column type %s", lt)
		}
	}
	return values, nil
}
