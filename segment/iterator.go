package segment

import (
	"context"
	"io"
	"log/slog"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/amber-create/starrocks/scan"
	"github.com/amber-create/starrocks/types"
)

// ReadOptions selects what an iterator reads and how it prunes.
type ReadOptions struct {
	// KeyRanges restricts rows via the short-key index. Empty means the
	// whole segment.
	KeyRanges []scan.KeyRange
	// Predicates are the compiled single-column filters. They prune pages
	// through zone maps and, unless marked index-filter-only, reject rows.
	Predicates []scan.ColumnPredicate
	// Predicate is an optional compound predicate tree evaluated per row in
	// addition to Predicates.
	Predicate scan.ChunkPredicate
	// Columns is the projection, in output order. Empty means every schema
	// column.
	Columns []string
}

// Iterator yields the rows of one segment that survive pruning, in row
// order. Not safe for concurrent use.
type Iterator struct {
	seg  *Segment
	rows roaring.IntPeekable

	projection []string
	cursors    map[string]*pageCursor
	rowPreds   []scan.ColumnPredicate
	tree       scan.ChunkPredicate

	out    []types.Datum
	closed bool
}

// NewIterator builds an iterator over the rows matching opts.
//
// When pruning proves no row can match — the key ranges select nothing, or a
// zone map contradicts a predicate — it returns scan.ErrNoRows without
// reading any data pages. Callers treat that as a cheap skip, not a failure.
func (s *Segment) NewIterator(ctx context.Context, opts ReadOptions) (*Iterator, error) {
	needIndex := false
	for _, kr := range opts.KeyRanges {
		if !kr.Full() {
			needIndex = true
			break
		}
	}
	if needIndex {
		if err := s.LoadIndex(ctx); err != nil {
			return nil, err
		}
	}

	rows := roaring.New()
	if len(opts.KeyRanges) == 0 {
		rows.AddRange(0, uint64(s.footer.NumRows))
	} else {
		for _, kr := range opts.KeyRanges {
			start, end := s.rowRange(kr)
			if start < end {
				rows.AddRange(uint64(start), uint64(end))
			}
		}
	}
	if rows.IsEmpty() {
		return nil, scan.ErrNoRows
	}

	// Zone-map pruning: first the whole column, then page by page.
	for _, p := range opts.Predicates {
		r := s.reader(p.ColumnName())
		if r == nil {
			continue
		}
		min, max, hasNulls := r.zoneMap()
		if !p.MatchesZoneMap(min, max, hasNulls) {
			return nil, scan.ErrNoRows
		}
		if r.isNullReader() {
			continue
		}
		for i := range r.meta.Pages {
			page := &r.meta.Pages[i]
			if !p.MatchesZoneMap(page.Min, page.Max, page.HasNulls) {
				rows.RemoveRange(uint64(page.FirstRow), uint64(page.FirstRow)+uint64(page.NumRows))
			}
		}
	}
	if rows.IsEmpty() {
		return nil, scan.ErrNoRows
	}

	projection := opts.Columns
	if len(projection) == 0 {
		for i := range s.schema.Columns {
			projection = append(projection, s.schema.Columns[i].Name)
		}
	}

	it := &Iterator{
		seg:        s,
		rows:       rows.Iterator(),
		projection: projection,
		cursors:    make(map[string]*pageCursor),
		tree:       opts.Predicate,
		out:        make([]types.Datum, len(projection)),
	}
	for _, p := range opts.Predicates {
		if p.IndexFilterOnly() {
			// Approximate predicates pruned above; they must not reject rows.
			continue
		}
		if s.reader(p.ColumnName()) == nil {
			continue
		}
		it.rowPreds = append(it.rowPreds, p)
	}

	needed := append([]string{}, projection...)
	for _, p := range it.rowPreds {
		needed = append(needed, p.ColumnName())
	}
	if it.tree != nil {
		needed = it.tree.Columns(needed)
	}
	for _, name := range needed {
		if _, ok := it.cursors[name]; ok {
			continue
		}
		r := s.reader(name)
		if r == nil {
			return nil, scan.ErrInvalidFilter
		}
		it.cursors[name] = newPageCursor(r)
	}

	s.logger.Debug("segment iterator",
		slog.String("name", s.name),
		slog.Uint64("candidate_rows", rows.GetCardinality()),
		slog.Int("row_predicates", len(it.rowPreds)),
	)
	return it, nil
}

// Next returns the next matching row projected onto the selected columns.
// The returned slice is reused between calls. io.EOF ends the iteration.
func (it *Iterator) Next(ctx context.Context) ([]types.Datum, error) {
	if it.closed {
		return nil, io.EOF
	}
	for it.rows.HasNext() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := it.rows.Next()

		match, err := it.rowMatches(ctx, row)
		if err != nil {
			return nil, err
		}
		if !match {
			continue
		}

		for i, name := range it.projection {
			v, err := it.cursors[name].valueAt(ctx, row)
			if err != nil {
				return nil, err
			}
			it.out[i] = v
		}
		return it.out, nil
	}
	return nil, io.EOF
}

func (it *Iterator) rowMatches(ctx context.Context, row uint32) (bool, error) {
	for _, p := range it.rowPreds {
		v, err := it.cursors[p.ColumnName()].valueAt(ctx, row)
		if err != nil {
			return false, err
		}
		if !p.Matches(v) {
			return false, nil
		}
	}
	if it.tree == nil {
		return true, nil
	}

	var readErr error
	match, err := it.tree.Matches(func(col string) (types.Datum, bool) {
		cur, ok := it.cursors[col]
		if !ok {
			return types.Datum{}, false
		}
		v, err := cur.valueAt(ctx, row)
		if err != nil {
			readErr = err
			return types.Datum{}, false
		}
		return v, true
	})
	if readErr != nil {
		return false, readErr
	}
	if err != nil {
		return false, err
	}
	return match, nil
}

// Close releases decoded page buffers. Always safe to call, including after
// an error or a second time.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	for _, c := range it.cursors {
		c.release()
	}
	return nil
}
