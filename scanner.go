package starrocks

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/amber-create/starrocks/blobstore"
	"github.com/amber-create/starrocks/expr"
	"github.com/amber-create/starrocks/internal/cache"
	"github.com/amber-create/starrocks/scan"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/segment"
	"github.com/amber-create/starrocks/types"
)

// Scanner reads rows from the immutable segments of one tablet. It compiles
// SQL conjuncts into storage filters and short-key ranges once per scan and
// applies them to every segment.
//
// A Scanner is safe for concurrent Scans; each Scan returns its own Rows.
type Scanner struct {
	store  blobstore.BlobStore
	schema *schema.TabletSchema
	opts   Options
	cache  cache.BlockCache
}

// NewScanner creates a Scanner over segments of the given tablet schema.
func NewScanner(store blobstore.BlobStore, s *schema.TabletSchema, opts ...Option) *Scanner {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	o.withDefaults()
	return &Scanner{
		store:  store,
		schema: s,
		opts:   o,
		cache:  o.blockCache(),
	}
}

// ScanRequest describes one scan.
type ScanRequest struct {
	// Segments names the segment blobs to read.
	Segments []string
	// TupleDesc describes the output slots; slot column names must exist in
	// the tablet schema or read as NULL.
	TupleDesc *schema.TupleDescriptor
	// Conjuncts are the ANDed filter expressions.
	Conjuncts []expr.Container
	// Columns is the output projection; empty means every schema column.
	Columns []string
}

// Scan compiles the request's conjuncts and opens all named segments
// concurrently. Segments proven empty by pruning are skipped without
// reading their data pages. A scan proven empty as a whole still returns a
// valid, immediately-exhausted Rows.
func (s *Scanner) Scan(ctx context.Context, req ScanRequest) (*Rows, error) {
	mgr := scan.NewConjunctsManager(&scan.Options{
		TupleDesc:                      req.TupleDesc,
		Conjuncts:                      req.Conjuncts,
		KeyColumnNames:                 s.schema.KeyColumnNames(),
		RuntimeFilters:                 s.opts.RuntimeFilters,
		MaxScanKeyNum:                  s.opts.MaxScanKeyNum,
		MaxPushdownConditionsPerColumn: s.opts.MaxPushdownConditionsPerColumn,
		EnableColumnExprPredicate:      s.opts.EnableColumnExprPredicate,
		ShortKeyForSingleColumnFilter:  s.opts.ShortKeyForSingleColumnFilter,
		Logger:                         s.opts.Logger.Logger,
	})

	if err := mgr.EvalConstConjuncts(); err != nil {
		if errors.Is(err, scan.ErrNoRows) {
			return emptyRows(mgr), nil
		}
		return nil, translateError(err)
	}
	if err := mgr.ParseConjuncts(); err != nil {
		if errors.Is(err, scan.ErrNoRows) {
			return emptyRows(mgr), nil
		}
		return nil, translateError(err)
	}

	preds, err := mgr.ColumnPredicates(scan.DatumParser{})
	if err != nil {
		return nil, translateError(err)
	}
	tree, err := mgr.ChunkPredicate(scan.DatumParser{})
	if err != nil {
		return nil, translateError(err)
	}
	keyRanges := mgr.KeyRanges()

	s.opts.Logger.LogScanStart(ctx, len(req.Segments), len(mgr.Filters()),
		len(keyRanges), len(mgr.NotPushDownConjuncts()))

	readOpts := segment.ReadOptions{
		KeyRanges:  keyRanges,
		Predicates: preds,
		Predicate:  tree,
		Columns:    req.Columns,
	}

	type openResult struct {
		seg *segment.Segment
		it  *segment.Iterator
	}
	results := make([]openResult, len(req.Segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.OpenConcurrency)
	for i, name := range req.Segments {
		i, name := i, name
		g.Go(func() error {
			var segOpts []segment.Option
			if s.cache != nil {
				segOpts = append(segOpts, segment.WithCache(s.cache))
			}
			if s.opts.FooterLengthHint > 0 {
				segOpts = append(segOpts, segment.WithFooterLengthHint(s.opts.FooterLengthHint))
			}
			segOpts = append(segOpts, segment.WithLogger(s.opts.Logger.Logger))

			seg, err := segment.Open(gctx, s.store, name, uint32(i), s.schema, segOpts...)
			if err != nil {
				s.opts.Logger.LogSegmentOpen(gctx, name, 0, err)
				return translateError(err)
			}
			s.opts.Logger.LogSegmentOpen(gctx, name, seg.NumRows(), nil)

			it, err := seg.NewIterator(gctx, readOpts)
			if err != nil {
				_ = seg.Close()
				if errors.Is(err, scan.ErrNoRows) {
					s.opts.Logger.LogScanSkip(gctx, name)
					return nil
				}
				return translateError(err)
			}
			results[i] = openResult{seg: seg, it: it}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range results {
			if r.it != nil {
				_ = r.it.Close()
			}
			if r.seg != nil {
				_ = r.seg.Close()
			}
		}
		return nil, err
	}

	rows := &Rows{mgr: mgr}
	for _, r := range results {
		if r.it != nil {
			rows.segs = append(rows.segs, r.seg)
			rows.its = append(rows.its, r.it)
		}
	}
	return rows, nil
}

// Rows iterates the matching rows of a scan, segment by segment. Not safe
// for concurrent use.
type Rows struct {
	mgr  *scan.ConjunctsManager
	segs []*segment.Segment
	its  []*segment.Iterator

	cur    int
	closed bool
}

func emptyRows(mgr *scan.ConjunctsManager) *Rows {
	return &Rows{mgr: mgr}
}

// Next returns the next matching row. The returned slice is reused between
// calls. io.EOF ends the iteration.
func (r *Rows) Next(ctx context.Context) ([]types.Datum, error) {
	if r.closed {
		return nil, io.EOF
	}
	for r.cur < len(r.its) {
		row, err := r.its[r.cur].Next(ctx)
		if err == nil {
			return row, nil
		}
		if !errors.Is(err, io.EOF) {
			return nil, translateError(err)
		}
		r.cur++
	}
	return nil, io.EOF
}

// Residual returns the conjuncts the storage layer could not apply; the
// caller must re-evaluate them per returned row.
func (r *Rows) Residual() []expr.Container {
	return r.mgr.NotPushDownConjuncts()
}

// UnarrivedRuntimeFilters returns runtime filters that were still in flight
// when the scan compiled.
func (r *Rows) UnarrivedRuntimeFilters() []scan.UnarrivedRuntimeFilter {
	return r.mgr.UnarrivedRuntimeFilters()
}

// Close closes all segment iterators and segments. Safe to call twice.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	var firstErr error
	for _, it := range r.its {
		if err := it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, seg := range r.segs {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
