package segment

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/axiomhq/hyperloglog"

	"github.com/amber-create/starrocks/blobstore"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/shortkey"
	"github.com/amber-create/starrocks/types"
)

// WriterOptions configures segment writing.
type WriterOptions struct {
	// PageSize is the uncompressed flush threshold per column page.
	// Defaults to 64KB.
	PageSize int
	// Codec is the compression requested for pages; individual pages fall
	// back to none when incompressible. Defaults to CodecS2.
	Codec CompressionCodec
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.PageSize <= 0 {
		o.PageSize = 64 << 10
	}
	if o.Codec == CodecNone {
		o.Codec = CodecS2
	}
	return o
}

// Writer builds one immutable segment file. Rows must be appended in key
// order; the writer trusts the caller and records short-key entries from the
// rows as given.
type Writer struct {
	schema *schema.TabletSchema
	opts   WriterOptions
	blob   blobstore.WritableBlob

	offset  uint64
	numRows uint32

	cols     []*columnWriter
	keyIndex *shortkey.IndexBuilder
	keyEnc   shortkey.Encoder

	finished bool
}

type columnWriter struct {
	meta ColumnMeta
	enc  *pageEncoder

	pageFirstRow uint32
	pageMin      types.Datum
	pageMax      types.Datum
	pageHasNulls bool
	pageNonNull  uint32

	sketch *hyperloglog.Sketch
}

// NewWriter creates a Writer that streams the segment into blob.
func NewWriter(s *schema.TabletSchema, blob blobstore.WritableBlob, opts WriterOptions) *Writer {
	opts = opts.withDefaults()
	w := &Writer{
		schema:   s,
		opts:     opts,
		blob:     blob,
		keyIndex: shortkey.NewIndexBuilder(s.RowsPerBlock),
	}
	for i := range s.Columns {
		col := &s.Columns[i]
		w.cols = append(w.cols, &columnWriter{
			meta: ColumnMeta{
				ID:       uint32(col.ID),
				Name:     col.Name,
				Type:     col.Type,
				Nullable: col.Nullable,
			},
			enc:    newPageEncoder(col.Type),
			sketch: hyperloglog.New14(),
		})
	}
	return w
}

// AppendRow appends one row in schema column order.
func (w *Writer) AppendRow(ctx context.Context, row []types.Datum) error {
	if w.finished {
		return fmt.Errorf("segment: writer already finished")
	}
	if len(row) != len(w.cols) {
		return fmt.Errorf("segment: row has %d values, schema has %d columns", len(row), len(w.cols))
	}

	// One sparse index entry per block of rows.
	if int(w.numRows)%w.schema.RowsPerBlock == 0 {
		w.keyEnc.Reset()
		for i := range w.schema.ShortKeyColumns() {
			w.keyEnc.AppendDatum(row[i])
		}
		w.keyIndex.Add(w.keyEnc.Bytes())
	}

	for i, cw := range w.cols {
		v := row[i]
		if v.IsNull() {
			if !cw.meta.Nullable {
				return fmt.Errorf("segment: null value for non-nullable column %q", cw.meta.Name)
			}
			cw.pageHasNulls = true
		} else {
			if v.Kind() != types.KindOf(cw.meta.Type) {
				return fmt.Errorf("segment: column %q expects %s, got kind %d", cw.meta.Name, cw.meta.Type, v.Kind())
			}
			if cw.pageNonNull == 0 || types.Compare(v, cw.pageMin) < 0 {
				cw.pageMin = v
			}
			if cw.pageNonNull == 0 || types.Compare(v, cw.pageMax) > 0 {
				cw.pageMax = v
			}
			cw.pageNonNull++
			cw.sketch.Insert(sketchBytes(v))
		}
		cw.enc.append(v)

		if cw.enc.sizeBytes() >= w.opts.PageSize {
			if err := w.flushPage(cw); err != nil {
				return err
			}
		}
	}

	w.numRows++
	return nil
}

func sketchBytes(v types.Datum) []byte {
	switch v.Kind() {
	case types.KindString:
		return []byte(v.Str())
	case types.KindFloat:
		var buf [9]byte
		buf[0] = byte(v.Kind())
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Float64()))
		return buf[:]
	case types.KindBool:
		if v.BoolValue() {
			return []byte{byte(v.Kind()), 1}
		}
		return []byte{byte(v.Kind()), 0}
	default:
		var buf [9]byte
		buf[0] = byte(v.Kind())
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int64()))
		return buf[:]
	}
}

func (w *Writer) flushPage(cw *columnWriter) error {
	numValues := cw.enc.numValues()
	if numValues == 0 {
		return nil
	}
	body, codec, err := cw.enc.finish(w.opts.Codec)
	if err != nil {
		return err
	}
	if _, err := w.blob.Write(body); err != nil {
		return err
	}

	min, max := cw.pageMin, cw.pageMax
	if cw.pageNonNull == 0 {
		min, max = types.Null(), types.Null()
	}
	cw.meta.Pages = append(cw.meta.Pages, PageMeta{
		Offset:   w.offset,
		Size:     uint64(len(body)),
		FirstRow: cw.pageFirstRow,
		NumRows:  numValues,
		Codec:    codec,
		Min:      min,
		Max:      max,
		HasNulls: cw.pageHasNulls,
	})
	w.offset += uint64(len(body))

	cw.enc = newPageEncoder(cw.meta.Type)
	cw.pageFirstRow += numValues
	cw.pageHasNulls = false
	cw.pageNonNull = 0
	return nil
}

// Finish flushes remaining pages, writes the short-key index and the footer,
// and closes the blob. The segment is visible to readers only after Finish
// returns nil.
func (w *Writer) Finish(ctx context.Context) error {
	if w.finished {
		return fmt.Errorf("segment: writer already finished")
	}
	w.finished = true

	for _, cw := range w.cols {
		if err := w.flushPage(cw); err != nil {
			return err
		}
	}

	indexPage := w.keyIndex.Finish()
	indexOffset := w.offset
	if _, err := w.blob.Write(indexPage); err != nil {
		return err
	}
	w.offset += uint64(len(indexPage))

	footer := &Footer{
		Version:            FormatVersion,
		NumRows:            w.numRows,
		RowsPerBlock:       uint32(w.schema.RowsPerBlock),
		NumShortKeyColumns: uint32(w.schema.NumShortKeyColumns),
		ShortKeyOffset:     indexOffset,
		ShortKeySize:       uint64(len(indexPage)),
	}
	for _, cw := range w.cols {
		cw.meta.NDV = cw.sketch.Estimate()
		footer.Columns = append(footer.Columns, cw.meta)
	}

	if _, err := w.blob.Write(EncodeFooter(footer)); err != nil {
		return err
	}
	if err := w.blob.Sync(); err != nil {
		return err
	}
	return w.blob.Close()
}

// NumRows returns the number of rows appended so far.
func (w *Writer) NumRows() uint32 { return w.numRows }
