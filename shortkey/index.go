package shortkey

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
)

// ErrCorruptIndex is returned when an index page fails structural validation.
var ErrCorruptIndex = errors.New("shortkey: corrupt index page")

// Index page layout (little endian):
//
//	u32 numItems
//	u32 rowsPerBlock
//	numItems * u32 key end offsets (cumulative, into the key blob)
//	key blob
const headerSize = 8

// IndexBuilder accumulates one encoded key per block and serializes the
// index page.
type IndexBuilder struct {
	rowsPerBlock uint32
	ends         []uint32
	keys         []byte
}

// NewIndexBuilder returns a builder for an index with the given block
// granularity.
func NewIndexBuilder(rowsPerBlock int) *IndexBuilder {
	return &IndexBuilder{rowsPerBlock: uint32(rowsPerBlock)}
}

// Add appends the encoded first key of the next block. Keys must be added in
// block order and must be non-decreasing.
func (b *IndexBuilder) Add(encodedKey []byte) {
	b.keys = append(b.keys, encodedKey...)
	b.ends = append(b.ends, uint32(len(b.keys)))
}

// NumItems returns the number of keys added so far.
func (b *IndexBuilder) NumItems() int { return len(b.ends) }

// Finish serializes the index page.
func (b *IndexBuilder) Finish() []byte {
	out := make([]byte, 0, headerSize+4*len(b.ends)+len(b.keys))
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(b.ends)))
	out = append(out, tmp[:]...)
	binary.LittleEndian.PutUint32(tmp[:], b.rowsPerBlock)
	out = append(out, tmp[:]...)
	for _, end := range b.ends {
		binary.LittleEndian.PutUint32(tmp[:], end)
		out = append(out, tmp[:]...)
	}
	out = append(out, b.keys...)
	return out
}

// Decoder provides bound lookups over a parsed index page. It is immutable
// and safe for concurrent use.
type Decoder struct {
	rowsPerBlock int
	ends         []uint32
	keys         []byte
}

// NewDecoder parses an index page.
func NewDecoder(page []byte) (*Decoder, error) {
	if len(page) < headerSize {
		return nil, ErrCorruptIndex
	}
	n := int(binary.LittleEndian.Uint32(page[0:4]))
	rowsPerBlock := int(binary.LittleEndian.Uint32(page[4:8]))
	if rowsPerBlock <= 0 || len(page) < headerSize+4*n {
		return nil, ErrCorruptIndex
	}
	ends := make([]uint32, n)
	for i := 0; i < n; i++ {
		ends[i] = binary.LittleEndian.Uint32(page[headerSize+4*i:])
	}
	keys := page[headerSize+4*n:]
	if n > 0 && int(ends[n-1]) != len(keys) {
		return nil, ErrCorruptIndex
	}
	for i := 1; i < n; i++ {
		if ends[i] < ends[i-1] {
			return nil, ErrCorruptIndex
		}
	}
	return &Decoder{rowsPerBlock: rowsPerBlock, ends: ends, keys: keys}, nil
}

// NumItems returns the number of index entries (= number of blocks).
func (d *Decoder) NumItems() int { return len(d.ends) }

// NumRowsPerBlock returns the row granularity of one entry.
func (d *Decoder) NumRowsPerBlock() int { return d.rowsPerBlock }

// Key returns the encoded first key of block i.
func (d *Decoder) Key(i int) []byte {
	start := uint32(0)
	if i > 0 {
		start = d.ends[i-1]
	}
	return d.keys[start:d.ends[i]]
}

// LowerBound returns the first entry whose key is >= key, or NumItems().
func (d *Decoder) LowerBound(key []byte) int {
	return sort.Search(len(d.ends), func(i int) bool {
		return bytes.Compare(d.Key(i), key) >= 0
	})
}

// UpperBound returns the first entry whose key is > key, or NumItems().
func (d *Decoder) UpperBound(key []byte) int {
	return sort.Search(len(d.ends), func(i int) bool {
		return bytes.Compare(d.Key(i), key) > 0
	})
}

// MemUsage returns the decoded in-memory footprint in bytes.
func (d *Decoder) MemUsage() int64 {
	return int64(4*len(d.ends) + len(d.keys))
}
