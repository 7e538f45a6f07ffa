package segment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/amber-create/starrocks/blobstore"
	"github.com/amber-create/starrocks/internal/cache"
	"github.com/amber-create/starrocks/internal/once"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/scan"
	"github.com/amber-create/starrocks/shortkey"
	"github.com/amber-create/starrocks/types"
)

// SchemaMismatchError is returned when a segment file stores a column with a
// type incompatible with the tablet schema it is opened against.
type SchemaMismatchError struct {
	Column     string
	FileType   types.LogicalType
	SchemaType types.LogicalType
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("segment: column %q stored as %s, schema declares %s",
		e.Column, e.FileType, e.SchemaType)
}

// Options configures opening a segment.
type Options struct {
	// FooterLengthHint is how many trailing bytes the open reads first.
	// Larger hints avoid a second read for big footers. 0 means the default.
	FooterLengthHint int
	// Cache holds decompressed pages and blob blocks. May be nil.
	Cache cache.BlockCache
	// Logger defaults to a no-op logger.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithFooterLengthHint sets the initial footer read size.
func WithFooterLengthHint(n int) Option {
	return func(o *Options) { o.FooterLengthHint = n }
}

// WithCache sets the page cache.
func WithCache(c cache.BlockCache) Option {
	return func(o *Options) { o.Cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Segment is an open immutable segment file. It is safe for concurrent
// readers; the short-key index loads lazily on first use and exactly once.
type Segment struct {
	name   string
	id     uint32
	blob   blobstore.Blob
	schema *schema.TabletSchema
	footer *Footer
	cache  cache.BlockCache
	logger *slog.Logger

	indexOnce once.Flag
	index     *shortkey.Decoder

	readers []*columnReader
}

// Open opens the named segment from store and validates its footer against
// the tablet schema. id is the segment's ordinal within its rowset and only
// identifies it in logs and diagnostics. Columns in the schema that the file
// predates read as all-NULL.
func Open(ctx context.Context, store blobstore.BlobStore, name string, id uint32, s *schema.TabletSchema, opts ...Option) (*Segment, error) {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	if o.FooterLengthHint <= 0 {
		o.FooterLengthHint = DefaultFooterLengthHint
	}
	if o.Logger == nil {
		o.Logger = slog.New(discardHandler{})
	}

	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	footer, err := readFooter(ctx, blob, o.FooterLengthHint)
	if err != nil {
		_ = blob.Close()
		return nil, err
	}

	seg := &Segment{
		name:   name,
		id:     id,
		blob:   blob,
		schema: s,
		footer: footer,
		cache:  o.Cache,
		logger: o.Logger,
	}

	// Bind one reader per schema column. A column the file does not carry
	// was added after this segment was written; it reads as all-NULL.
	for i := range s.Columns {
		col := &s.Columns[i]
		meta := footer.ColumnByName(col.Name)
		if meta == nil {
			seg.readers = append(seg.readers, newNullColumnReader(col.Name, footer.NumRows))
			continue
		}
		if meta.Type != col.Type {
			_ = blob.Close()
			return nil, &SchemaMismatchError{
				Column:     col.Name,
				FileType:   meta.Type,
				SchemaType: col.Type,
			}
		}
		seg.readers = append(seg.readers, newColumnReader(seg, meta))
	}

	seg.logger.Debug("opened segment",
		slog.String("name", name),
		slog.Uint64("id", uint64(id)),
		slog.Uint64("rows", uint64(footer.NumRows)),
		slog.Int("columns", len(footer.Columns)),
	)
	return seg, nil
}

// readFooter reads and validates the footer using the length hint: one read
// from the tail, a second only when the footer is larger than the hint.
func readFooter(ctx context.Context, blob blobstore.Blob, hint int) (*Footer, error) {
	size := blob.Size()
	if size < tailSize {
		return nil, fmt.Errorf("%w: file too small (%d bytes)", ErrCorruptFooter, size)
	}

	readLen := int64(hint) + tailSize
	if readLen > size {
		readLen = size
	}
	buf := make([]byte, readLen)
	if _, err := readFull(ctx, blob, buf, size-readLen); err != nil {
		return nil, err
	}

	tail := buf[len(buf)-tailSize:]
	footerLen, footerCRC, err := ParseTail(tail)
	if err != nil {
		return nil, err
	}
	if int64(footerLen)+tailSize > size {
		return nil, fmt.Errorf("%w: footer length %d exceeds file size", ErrCorruptFooter, footerLen)
	}

	var body []byte
	if int(footerLen) <= len(buf)-tailSize {
		body = buf[len(buf)-tailSize-int(footerLen) : len(buf)-tailSize]
	} else {
		body = make([]byte, footerLen)
		if _, err := readFull(ctx, blob, body, size-tailSize-int64(footerLen)); err != nil {
			return nil, err
		}
	}
	if err := VerifyFooter(body, footerCRC); err != nil {
		return nil, err
	}
	return DecodeFooter(body)
}

func readFull(ctx context.Context, blob blobstore.Blob, p []byte, off int64) (int, error) {
	n, err := blob.ReadAt(ctx, p, off)
	if err == io.EOF && n == len(p) {
		err = nil
	}
	if err == nil && n < len(p) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// NumRows returns the row count of the segment.
func (s *Segment) NumRows() uint32 { return s.footer.NumRows }

// ID returns the segment's ordinal within its rowset.
func (s *Segment) ID() uint32 { return s.id }

// Footer exposes the parsed footer for diagnostics.
func (s *Segment) Footer() *Footer { return s.footer }

// Close closes the underlying blob. Iterators must be closed first.
func (s *Segment) Close() error { return s.blob.Close() }

// LoadIndex loads and parses the short-key index. Concurrent callers share
// one load; the result, success or failure, is cached for the segment's
// lifetime.
func (s *Segment) LoadIndex(ctx context.Context) error {
	return s.indexOnce.Do(func() error {
		buf := make([]byte, s.footer.ShortKeySize)
		if _, err := readFull(ctx, s.blob, buf, int64(s.footer.ShortKeyOffset)); err != nil {
			return err
		}
		dec, err := shortkey.NewDecoder(buf)
		if err != nil {
			return err
		}
		s.index = dec
		s.logger.Debug("loaded short-key index",
			slog.String("name", s.name),
			slog.Uint64("id", uint64(s.id)),
			slog.Int("entries", dec.NumItems()),
		)
		return nil
	})
}

// IndexLoaded reports whether the short-key index has been loaded.
func (s *Segment) IndexLoaded() bool { return s.indexOnce.Invoked() && s.index != nil }

// ErrIndexNotLoaded is returned by the short-key bound accessors before a
// successful LoadIndex.
var ErrIndexNotLoaded = errors.New("segment: short-key index not loaded")

// NumShortKeys returns the number of entries in the short-key index.
func (s *Segment) NumShortKeys() (int, error) {
	if !s.IndexLoaded() {
		return 0, ErrIndexNotLoaded
	}
	return s.index.NumItems(), nil
}

// NumRowsPerBlock returns the row granularity of one index entry.
func (s *Segment) NumRowsPerBlock() (int, error) {
	if !s.IndexLoaded() {
		return 0, ErrIndexNotLoaded
	}
	return s.index.NumRowsPerBlock(), nil
}

// LowerBound returns the ordinal of the first index entry >= the encoded key.
func (s *Segment) LowerBound(key []byte) (int, error) {
	if !s.IndexLoaded() {
		return 0, ErrIndexNotLoaded
	}
	return s.index.LowerBound(key), nil
}

// UpperBound returns the ordinal of the first index entry > the encoded key.
func (s *Segment) UpperBound(key []byte) (int, error) {
	if !s.IndexLoaded() {
		return 0, ErrIndexNotLoaded
	}
	return s.index.UpperBound(key), nil
}

// segmentOverhead approximates the fixed footprint of an open Segment:
// the struct itself, its blob handle and per-column reader slots.
const segmentOverhead = 256

// MemUsage returns the resident memory of the segment: fixed overhead plus
// the file name, the parsed footer and, if loaded, the short-key index.
func (s *Segment) MemUsage() int64 {
	usage := int64(segmentOverhead) + int64(len(s.name))
	for i := range s.footer.Columns {
		col := &s.footer.Columns[i]
		usage += int64(len(col.Name)) + int64(len(col.Pages))*96
	}
	if s.indexOnce.Invoked() && s.index != nil {
		usage += s.index.MemUsage()
	}
	return usage
}

// rowRange resolves one short-key range to a half-open row interval using
// the sparse index. The interval is block-aligned and may overshoot; exact
// trimming is the row predicates' job.
func (s *Segment) rowRange(kr scan.KeyRange) (start, end uint32) {
	numRows := s.footer.NumRows
	if kr.Full() || s.index == nil || s.index.NumItems() == 0 {
		return 0, numRows
	}
	rowsPerBlock := uint32(s.index.NumRowsPerBlock())

	start = 0
	if len(kr.Begin) > 0 {
		key := s.seekKey(kr.Begin, false)
		item := s.index.LowerBound(key)
		// The block before the first indexed key >= begin may still hold
		// matching rows.
		if item > 0 {
			item--
		}
		start = uint32(item) * rowsPerBlock
	}

	end = numRows
	if len(kr.End) > 0 {
		// An inclusive end is a key prefix: suffix it with the max marker so
		// the seek covers every full key sharing the prefix.
		key := s.seekKey(kr.End, kr.EndInclusive)
		item := s.index.UpperBound(key)
		if e := uint32(item) * rowsPerBlock; e < end {
			end = e
		}
	}
	if start > end {
		start = end
	}
	return start, end
}

// seekKey encodes a key tuple truncated to the indexed prefix length,
// optionally suffixed with the max marker.
func (s *Segment) seekKey(tuple []types.Datum, padMax bool) []byte {
	if n := int(s.footer.NumShortKeyColumns); len(tuple) > n {
		tuple = tuple[:n]
	}
	var e shortkey.Encoder
	for _, v := range tuple {
		e.AppendDatum(v)
	}
	if padMax {
		e.AppendMaxMarker()
	}
	return e.Bytes()
}

// reader returns the column reader for name, or nil.
func (s *Segment) reader(name string) *columnReader {
	for i := range s.schema.Columns {
		if s.schema.Columns[i].Name == name {
			return s.readers[i]
		}
	}
	return nil
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (h discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discardHandler) WithGroup(string) slog.Handler           { return h }
