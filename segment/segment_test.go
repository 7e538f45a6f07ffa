package segment

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amber-create/starrocks/blobstore"
	"github.com/amber-create/starrocks/internal/cache"
	"github.com/amber-create/starrocks/scan"
	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/shortkey"
	"github.com/amber-create/starrocks/types"
)

func testSchema() *schema.TabletSchema {
	return &schema.TabletSchema{
		Columns: []schema.TabletColumn{
			{ID: 1, Name: "k1", Type: types.TypeInt, IsKey: true},
			{ID: 2, Name: "k2", Type: types.TypeInt, IsKey: true},
			{ID: 3, Name: "v1", Type: types.TypeInt, Nullable: true},
			{ID: 4, Name: "s1", Type: types.TypeVarchar, Nullable: true},
		},
		NumShortKeyColumns: 2,
		RowsPerBlock:       4,
	}
}

// testRows returns 64 key-sorted rows: k1 = i/8, k2 = i%8, v1 = i (NULL when
// i%7 == 0), s1 = "s<i>".
func testRows() [][]types.Datum {
	rows := make([][]types.Datum, 0, 64)
	for i := 0; i < 64; i++ {
		v1 := types.Int(int64(i))
		if i%7 == 0 {
			v1 = types.Null()
		}
		rows = append(rows, []types.Datum{
			types.Int(int64(i / 8)),
			types.Int(int64(i % 8)),
			v1,
			types.String(fmt.Sprintf("s%02d", i)),
		})
	}
	return rows
}

func writeTestSegment(t *testing.T, store blobstore.BlobStore, name string, s *schema.TabletSchema, rows [][]types.Datum, opts WriterOptions) {
	t.Helper()
	ctx := context.Background()
	blob, err := store.Create(ctx, name)
	require.NoError(t, err)
	w := NewWriter(s, blob, opts)
	for _, row := range rows {
		require.NoError(t, w.AppendRow(ctx, row))
	}
	require.NoError(t, w.Finish(ctx))
}

func drain(t *testing.T, it *Iterator) [][]types.Datum {
	t.Helper()
	ctx := context.Background()
	var out [][]types.Datum
	for {
		row, err := it.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, append([]types.Datum{}, row...))
	}
}

func mustPredicate(t *testing.T, c scan.Condition) scan.ColumnPredicate {
	t.Helper()
	p, err := scan.DatumParser{}.ParseCondition(c)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestSegmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	rows := testRows()
	writeTestSegment(t, store, "seg1", s, rows, WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 7, s)
	require.NoError(t, err)
	defer seg.Close()

	assert.Equal(t, uint32(64), seg.NumRows())
	assert.Equal(t, uint32(7), seg.ID())
	assert.False(t, seg.IndexLoaded())

	it, err := seg.NewIterator(ctx, ReadOptions{})
	require.NoError(t, err)
	defer it.Close()

	got := drain(t, it)
	require.Len(t, got, 64)
	assert.Equal(t, rows, got)
}

func TestSegmentSmallPages(t *testing.T) {
	// A tiny page size forces many pages per column; rows must still come
	// back in order across page boundaries.
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	rows := testRows()
	writeTestSegment(t, store, "seg1", s, rows, WriterOptions{PageSize: 64})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	require.Greater(t, len(seg.Footer().Columns[0].Pages), 1)

	it, err := seg.NewIterator(ctx, ReadOptions{})
	require.NoError(t, err)
	defer it.Close()
	assert.Equal(t, rows, drain(t, it))
}

func TestSegmentCodecs(t *testing.T) {
	for _, codec := range []CompressionCodec{CodecS2, CodecLZ4} {
		t.Run(codec.String(), func(t *testing.T) {
			ctx := context.Background()
			store := blobstore.NewMemoryStore()
			s := testSchema()
			rows := testRows()
			writeTestSegment(t, store, "seg1", s, rows, WriterOptions{Codec: codec})

			seg, err := Open(ctx, store, "seg1", 1, s)
			require.NoError(t, err)
			defer seg.Close()

			it, err := seg.NewIterator(ctx, ReadOptions{})
			require.NoError(t, err)
			defer it.Close()
			assert.Equal(t, rows, drain(t, it))
		})
	}
}

func TestSegmentProjection(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	it, err := seg.NewIterator(ctx, ReadOptions{Columns: []string{"v1", "k1"}})
	require.NoError(t, err)
	defer it.Close()

	got := drain(t, it)
	require.Len(t, got, 64)
	assert.Equal(t, types.Null(), got[0][0]) // v1 of row 0 is NULL
	assert.Equal(t, types.Int(0), got[0][1])
	assert.Equal(t, types.Int(9), got[9][0])
	assert.Equal(t, types.Int(1), got[9][1])
}

func TestSegmentKeyRangeScan(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	// k1 = 5 as a key-prefix range plus the matching row filter; the sparse
	// index is block-aligned, so the filter trims the overshoot.
	opts := ReadOptions{
		KeyRanges: []scan.KeyRange{{
			Begin:          []types.Datum{types.Int(5)},
			End:            []types.Datum{types.Int(5)},
			BeginInclusive: true,
			EndInclusive:   true,
		}},
		Predicates: []scan.ColumnPredicate{
			mustPredicate(t, scan.Condition{ColumnName: "k1", Op: scan.FilterIn, Values: []types.Datum{types.Int(5)}}),
		},
	}
	it, err := seg.NewIterator(ctx, opts)
	require.NoError(t, err)
	defer it.Close()

	got := drain(t, it)
	require.Len(t, got, 8)
	for i, row := range got {
		assert.Equal(t, types.Int(5), row[0])
		assert.Equal(t, types.Int(int64(i)), row[1])
	}
	assert.True(t, seg.IndexLoaded())
}

func TestSegmentKeyRangeNoMatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	// A range entirely below the smallest key resolves to an empty interval.
	_, err = seg.NewIterator(ctx, ReadOptions{
		KeyRanges: []scan.KeyRange{{
			Begin:          []types.Datum{types.Int(-10)},
			End:            []types.Datum{types.Int(-5)},
			BeginInclusive: true,
			EndInclusive:   true,
		}},
	})
	assert.ErrorIs(t, err, scan.ErrNoRows)
}

func TestSegmentZoneMapPruning(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	// v1 never exceeds 63: the column zone map proves no rows without
	// touching a data page.
	_, err = seg.NewIterator(ctx, ReadOptions{
		Predicates: []scan.ColumnPredicate{
			mustPredicate(t, scan.Condition{ColumnName: "v1", Op: scan.FilterLarger, Values: []types.Datum{types.Int(1000)}}),
		},
	})
	assert.ErrorIs(t, err, scan.ErrNoRows)
}

func TestSegmentPageZoneMapPruning(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{PageSize: 64})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	it, err := seg.NewIterator(ctx, ReadOptions{
		Predicates: []scan.ColumnPredicate{
			mustPredicate(t, scan.Condition{ColumnName: "v1", Op: scan.FilterLargerOrEqual, Values: []types.Datum{types.Int(60)}}),
		},
	})
	require.NoError(t, err)
	defer it.Close()

	// Rows 60..62 match; row 63 has a NULL v1.
	got := drain(t, it)
	require.Len(t, got, 3)
	assert.Equal(t, types.Int(60), got[0][2])
	assert.Equal(t, types.Int(62), got[2][2])
}

func TestSegmentRowPredicateNullRejected(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	// v1 >= 0 matches every non-null v1; the 10 NULL rows (i % 7 == 0) drop.
	it, err := seg.NewIterator(ctx, ReadOptions{
		Predicates: []scan.ColumnPredicate{
			mustPredicate(t, scan.Condition{ColumnName: "v1", Op: scan.FilterLargerOrEqual, Values: []types.Datum{types.Int(0)}}),
		},
	})
	require.NoError(t, err)
	defer it.Close()
	assert.Len(t, drain(t, it), 54)
}

func TestSegmentSchemaEvolutionNullColumn(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	old := testSchema()
	writeTestSegment(t, store, "seg1", old, testRows(), WriterOptions{})

	// The schema gained a column after this segment was written.
	evolved := testSchema()
	evolved.Columns = append(evolved.Columns, schema.TabletColumn{
		ID: 5, Name: "v2", Type: types.TypeInt, Nullable: true,
	})

	seg, err := Open(ctx, store, "seg1", 1, evolved)
	require.NoError(t, err)
	defer seg.Close()

	it, err := seg.NewIterator(ctx, ReadOptions{Columns: []string{"k1", "v2"}})
	require.NoError(t, err)
	defer it.Close()

	got := drain(t, it)
	require.Len(t, got, 64)
	for _, row := range got {
		assert.Equal(t, types.Null(), row[1])
	}

	// "v2 is not null" is provably empty.
	_, err = seg.NewIterator(ctx, ReadOptions{
		Predicates: []scan.ColumnPredicate{
			mustPredicate(t, scan.Condition{ColumnName: "v2", Op: scan.FilterIsNull, NullTest: "not null"}),
		},
	})
	assert.ErrorIs(t, err, scan.ErrNoRows)
}

func TestSegmentSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	writeTestSegment(t, store, "seg1", testSchema(), testRows(), WriterOptions{})

	bad := testSchema()
	bad.Columns[2].Type = types.TypeVarchar

	_, err := Open(ctx, store, "seg1", 1, bad)
	var mismatch *SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "v1", mismatch.Column)
	assert.Equal(t, types.TypeInt, mismatch.FileType)
	assert.Equal(t, types.TypeVarchar, mismatch.SchemaType)
}

func TestSegmentFooterHint(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	rows := testRows()
	writeTestSegment(t, store, "seg1", s, rows, WriterOptions{})

	// A hint smaller than the footer forces the second tail read.
	seg, err := Open(ctx, store, "seg1", 1, s, WithFooterLengthHint(1))
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, uint32(64), seg.NumRows())

	// A hint larger than the file clamps to the file size.
	seg2, err := Open(ctx, store, "seg1", 1, s, WithFooterLengthHint(1<<20))
	require.NoError(t, err)
	defer seg2.Close()
	assert.Equal(t, uint32(64), seg2.NumRows())
}

func TestSegmentCorruptFooter(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	blob, err := store.Open(ctx, "seg1")
	require.NoError(t, err)
	raw := make([]byte, blob.Size())
	_, err = readFull(ctx, blob, raw, 0)
	require.NoError(t, err)
	require.NoError(t, blob.Close())

	corrupt := func(name string, mutate func(b []byte)) {
		t.Run(name, func(t *testing.T) {
			b := append([]byte{}, raw...)
			mutate(b)
			require.NoError(t, store.Put(ctx, "bad", b))
			_, err := Open(ctx, store, "bad", 1, s)
			assert.ErrorIs(t, err, ErrCorruptFooter)
		})
	}

	corrupt("bad magic", func(b []byte) {
		binary.LittleEndian.PutUint32(b[len(b)-4:], 0xDEADBEEF)
	})
	corrupt("bad checksum", func(b []byte) {
		b[len(b)-20] ^= 0xFF
	})
	corrupt("oversized footer length", func(b []byte) {
		binary.LittleEndian.PutUint32(b[len(b)-12:], uint32(len(b)))
	})

	t.Run("truncated file", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "bad", raw[:4]))
		_, err := Open(ctx, store, "bad", 1, s)
		assert.ErrorIs(t, err, ErrCorruptFooter)
	})
}

func TestSegmentMemUsage(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "a", s, testRows(), WriterOptions{})
	writeTestSegment(t, store, "a-much-longer-name", s, testRows(), WriterOptions{})

	short, err := Open(ctx, store, "a", 1, s)
	require.NoError(t, err)
	defer short.Close()
	long, err := Open(ctx, store, "a-much-longer-name", 2, s)
	require.NoError(t, err)
	defer long.Close()

	// The file name counts toward the footprint.
	diff := int64(len("a-much-longer-name") - len("a"))
	assert.Equal(t, short.MemUsage()+diff, long.MemUsage())
	assert.Greater(t, short.MemUsage(), int64(len("a")))

	// Loading the index grows the footprint.
	before := short.MemUsage()
	require.NoError(t, short.LoadIndex(ctx))
	assert.Greater(t, short.MemUsage(), before)
}

func TestSegmentShortKeyBounds(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	_, err = seg.NumShortKeys()
	assert.ErrorIs(t, err, ErrIndexNotLoaded)

	require.NoError(t, seg.LoadIndex(ctx))

	// 64 rows at 4 rows per block.
	n, err := seg.NumShortKeys()
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	rpb, err := seg.NumRowsPerBlock()
	require.NoError(t, err)
	assert.Equal(t, 4, rpb)

	// Key (2, 0) starts block 4 (row 16).
	key := shortkey.EncodeTuple([]types.Datum{types.Int(2), types.Int(0)})
	lower, err := seg.LowerBound(key)
	require.NoError(t, err)
	assert.Equal(t, 4, lower)
	upper, err := seg.UpperBound(key)
	require.NoError(t, err)
	assert.Equal(t, 5, upper)
}

func TestSegmentLoadIndexConcurrent(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	writeTestSegment(t, store, "seg1", s, testRows(), WriterOptions{})

	seg, err := Open(ctx, store, "seg1", 1, s)
	require.NoError(t, err)
	defer seg.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, seg.LoadIndex(ctx))
		}()
	}
	wg.Wait()
	assert.True(t, seg.IndexLoaded())
	assert.Positive(t, seg.MemUsage())
}

func TestSegmentPageCache(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	s := testSchema()
	rows := testRows()
	writeTestSegment(t, store, "seg1", s, rows, WriterOptions{})

	c := cache.NewLRUBlockCache(1 << 20)
	seg, err := Open(ctx, store, "seg1", 1, s, WithCache(c))
	require.NoError(t, err)
	defer seg.Close()

	for i := 0; i < 2; i++ {
		it, err := seg.NewIterator(ctx, ReadOptions{})
		require.NoError(t, err)
		assert.Equal(t, rows, drain(t, it))
		require.NoError(t, it.Close())
	}

	hits, misses := c.Stats()
	assert.Positive(t, hits)
	assert.Positive(t, misses)
}

func TestFooterRoundTrip(t *testing.T) {
	f := &Footer{
		Version:            FormatVersion,
		NumRows:            99,
		RowsPerBlock:       8,
		NumShortKeyColumns: 2,
		ShortKeyOffset:     1234,
		ShortKeySize:       56,
		Columns: []ColumnMeta{{
			ID: 1, Name: "c", Type: types.TypeVarchar, Nullable: true, NDV: 42,
			Pages: []PageMeta{{
				Offset: 0, Size: 100, FirstRow: 0, NumRows: 10, Codec: CodecS2,
				Min: types.String("a"), Max: types.String("z"), HasNulls: true,
			}},
		}},
	}

	encoded := EncodeFooter(f)
	footerLen, footerCRC, err := ParseTail(encoded[len(encoded)-12:])
	require.NoError(t, err)
	body := encoded[len(encoded)-12-int(footerLen) : len(encoded)-12]
	require.NoError(t, VerifyFooter(body, footerCRC))

	got, err := DecodeFooter(body)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestDecodeFooterBadVersion(t *testing.T) {
	f := &Footer{Version: 99, NumRows: 1, RowsPerBlock: 1}
	encoded := EncodeFooter(f)
	_, err := DecodeFooter(encoded[:len(encoded)-12])
	assert.ErrorIs(t, err, ErrCorruptFooter)
}
