package segment

import (
	"context"
	"fmt"
	"sort"

	"github.com/amber-create/starrocks/internal/cache"
	"github.com/amber-create/starrocks/types"
)

// columnReader reads one column's pages, serving cached decompressed bodies
// when a block cache is configured. A reader for a column the file predates
// serves NULL for every row.
type columnReader struct {
	seg  *Segment
	meta *ColumnMeta

	// nullRows > 0 marks a schema-evolution null reader.
	nullName string
	nullRows uint32
}

func newColumnReader(seg *Segment, meta *ColumnMeta) *columnReader {
	return &columnReader{seg: seg, meta: meta}
}

func newNullColumnReader(name string, numRows uint32) *columnReader {
	return &columnReader{nullName: name, nullRows: numRows}
}

func (r *columnReader) isNullReader() bool { return r.meta == nil }

func (r *columnReader) name() string {
	if r.meta == nil {
		return r.nullName
	}
	return r.meta.Name
}

// zoneMap returns the column-level min/max/hasNulls aggregated over all
// pages. An all-null column (or a null reader) reports NULL bounds.
func (r *columnReader) zoneMap() (min, max types.Datum, hasNulls bool) {
	if r.meta == nil {
		return types.Null(), types.Null(), true
	}
	min, max = types.Null(), types.Null()
	for i := range r.meta.Pages {
		p := &r.meta.Pages[i]
		if p.HasNulls {
			hasNulls = true
		}
		if p.Min.IsNull() && p.Max.IsNull() {
			continue
		}
		if min.IsNull() || types.Compare(p.Min, min) < 0 {
			min = p.Min
		}
		if max.IsNull() || types.Compare(p.Max, max) > 0 {
			max = p.Max
		}
	}
	return min, max, hasNulls
}

// pageIndexForRow returns the index of the page containing the given row.
func (r *columnReader) pageIndexForRow(row uint32) (int, error) {
	pages := r.meta.Pages
	i := sort.Search(len(pages), func(i int) bool {
		return pages[i].FirstRow+pages[i].NumRows > row
	})
	if i >= len(pages) || pages[i].FirstRow > row {
		return 0, fmt.Errorf("segment: row %d out of range for column %q", row, r.meta.Name)
	}
	return i, nil
}

// readPageValues loads and decodes one page. The decompressed body goes
// through the block cache; datum decoding is cheap enough to redo per load.
func (r *columnReader) readPageValues(ctx context.Context, pageIdx int) ([]types.Datum, error) {
	p := &r.meta.Pages[pageIdx]

	var key cache.Key
	if r.seg.cache != nil {
		key = cache.Key{
			Kind:   cache.KindPage,
			Path:   r.seg.name,
			Column: r.meta.ID,
			Offset: uint64(pageIdx),
		}
		if raw, ok := r.seg.cache.Get(ctx, key); ok {
			return parsePage(raw, r.meta.Type)
		}
	}

	buf := make([]byte, p.Size)
	if _, err := readFull(ctx, r.seg.blob, buf, int64(p.Offset)); err != nil {
		return nil, err
	}
	raw, err := decompressPage(buf, p.Codec, 0)
	if err != nil {
		return nil, err
	}
	if r.seg.cache != nil {
		r.seg.cache.Set(ctx, key, raw)
	}
	return parsePage(raw, r.meta.Type)
}

// pageCursor caches the current page of one column during iteration, so
// sequential row access decodes each page once.
type pageCursor struct {
	reader  *columnReader
	pageIdx int
	first   uint32
	count   uint32
	values  []types.Datum
}

func newPageCursor(r *columnReader) *pageCursor {
	return &pageCursor{reader: r, pageIdx: -1}
}

// valueAt returns the column value of the given segment row.
func (c *pageCursor) valueAt(ctx context.Context, row uint32) (types.Datum, error) {
	if c.reader.isNullReader() {
		return types.Null(), nil
	}
	if c.pageIdx < 0 || row < c.first || row >= c.first+c.count {
		idx, err := c.reader.pageIndexForRow(row)
		if err != nil {
			return types.Datum{}, err
		}
		values, err := c.reader.readPageValues(ctx, idx)
		if err != nil {
			return types.Datum{}, err
		}
		p := &c.reader.meta.Pages[idx]
		c.pageIdx = idx
		c.first = p.FirstRow
		c.count = p.NumRows
		c.values = values
	}
	return c.values[row-c.first], nil
}

// release drops the decoded page buffer.
func (c *pageCursor) release() {
	c.values = nil
	c.pageIdx = -1
}
