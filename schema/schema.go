// Package schema holds the table and tuple descriptors consumed by the scan
// layer. Descriptors are produced by the planner upstream; this package only
// defines their shape and lookup helpers.
package schema

import "github.com/amber-create/starrocks/types"

// SlotID uniquely numbers a slot within a query plan.
type SlotID int32

// SlotDescriptor describes one output slot of a scan: the column it reads and
// its declared type. Precision and scale are only meaningful for fixed-point
// slots.
type SlotDescriptor struct {
	ID        SlotID
	ColName   string
	Type      types.LogicalType
	Precision int
	Scale     int
	Nullable  bool
}

// TupleDescriptor is the ordered list of slots produced by one scan node.
type TupleDescriptor struct {
	Slots []*SlotDescriptor
}

// SlotByID returns the slot with the given id, or nil.
func (t *TupleDescriptor) SlotByID(id SlotID) *SlotDescriptor {
	for _, s := range t.Slots {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SlotIndexByID returns the position of the slot with the given id, or -1.
func (t *TupleDescriptor) SlotIndexByID(id SlotID) int {
	for i, s := range t.Slots {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// TabletColumn describes one physical column of a tablet.
type TabletColumn struct {
	ID        int32
	Name      string
	Type      types.LogicalType
	Precision int
	Scale     int
	IsKey     bool
	Nullable  bool
}

// TabletSchema is the physical schema one segment file is bound to. A segment
// is immutable with respect to it: after a schema change, cached segments for
// the old schema must be discarded.
type TabletSchema struct {
	Columns []TabletColumn
	// NumShortKeyColumns is the length of the key prefix indexed by the
	// sparse short-key index.
	NumShortKeyColumns int
	// RowsPerBlock is the row granularity of one short-key index entry.
	RowsPerBlock int
}

// NumColumns returns the number of columns.
func (s *TabletSchema) NumColumns() int { return len(s.Columns) }

// ColumnIndexByName returns the ordinal of the named column, or -1.
func (s *TabletSchema) ColumnIndexByName(name string) int {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return i
		}
	}
	return -1
}

// KeyColumnNames returns the names of the key columns in order.
func (s *TabletSchema) KeyColumnNames() []string {
	var names []string
	for i := range s.Columns {
		if s.Columns[i].IsKey {
			names = append(names, s.Columns[i].Name)
		}
	}
	return names
}

// ShortKeyColumns returns the key-prefix columns covered by the short-key
// index.
func (s *TabletSchema) ShortKeyColumns() []TabletColumn {
	n := s.NumShortKeyColumns
	if n > len(s.Columns) {
		n = len(s.Columns)
	}
	return s.Columns[:n]
}
