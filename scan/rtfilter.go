package scan

import (
	"sync/atomic"

	"github.com/amber-create/starrocks/schema"
	"github.com/amber-create/starrocks/types"
)

// JoinRuntimeFilter is the summary a join build side publishes for one probe
// column: a min/max envelope, an optional membership tester (bloom filter),
// and whether the build side contained nulls. A filter with nulls cannot
// safely prune and is skipped entirely.
type JoinRuntimeFilter struct {
	HasNull bool
	Min     types.Datum
	Max     types.Datum

	// MayContain is the probabilistic membership test; nil when the build
	// side published only the min/max envelope.
	MayContain func(types.Datum) bool
}

// RuntimeFilterProbeDescriptor identifies one runtime filter targeted at a
// probe-side slot. The filter itself arrives asynchronously from the
// concurrently executing build side; until then RuntimeFilter returns nil.
type RuntimeFilterProbeDescriptor struct {
	FilterID    int
	ProbeSlotID schema.SlotID

	filter atomic.Pointer[JoinRuntimeFilter]
}

// NewRuntimeFilterProbeDescriptor returns a descriptor for the given filter
// and probe slot.
func NewRuntimeFilterProbeDescriptor(filterID int, slotID schema.SlotID) *RuntimeFilterProbeDescriptor {
	return &RuntimeFilterProbeDescriptor{FilterID: filterID, ProbeSlotID: slotID}
}

// RuntimeFilter returns the published filter, or nil if it has not arrived.
func (d *RuntimeFilterProbeDescriptor) RuntimeFilter() *JoinRuntimeFilter {
	return d.filter.Load()
}

// SetRuntimeFilter publishes the built filter. Safe to call concurrently
// with readers.
func (d *RuntimeFilterProbeDescriptor) SetRuntimeFilter(f *JoinRuntimeFilter) {
	d.filter.Store(f)
}

// RuntimeFilterCollection is the set of runtime filters assigned to one scan,
// keyed by filter id.
type RuntimeFilterCollection struct {
	descs map[int]*RuntimeFilterProbeDescriptor
	order []int
}

// NewRuntimeFilterCollection returns an empty collection.
func NewRuntimeFilterCollection() *RuntimeFilterCollection {
	return &RuntimeFilterCollection{descs: make(map[int]*RuntimeFilterProbeDescriptor)}
}

// Add registers a descriptor.
func (c *RuntimeFilterCollection) Add(d *RuntimeFilterProbeDescriptor) {
	if _, ok := c.descs[d.FilterID]; !ok {
		c.order = append(c.order, d.FilterID)
	}
	c.descs[d.FilterID] = d
}

// Descriptors returns the descriptors in registration order.
func (c *RuntimeFilterCollection) Descriptors() []*RuntimeFilterProbeDescriptor {
	if c == nil {
		return nil
	}
	out := make([]*RuntimeFilterProbeDescriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.descs[id])
	}
	return out
}

// UnarrivedRuntimeFilter records a column still waiting for its runtime
// filter. The caller re-checks pending filters on its own polling or
// notification schedule; compilation never blocks waiting for one.
type UnarrivedRuntimeFilter struct {
	Desc *RuntimeFilterProbeDescriptor
	Slot *schema.SlotDescriptor
}
