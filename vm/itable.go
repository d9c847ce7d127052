package vm

import "fmt"

// ITable maps the methods of one interface to vTable slots of the class
// that owns the chain. A class links one ITable per implemented interface,
// superinterfaces included.
type ITable struct {
	Interface *Class
	// Slots[i] is the vTable slot implementing the i-th method declared by
	// Interface.
	Slots []int
	Next  *ITable
}

// ITableOffset is the interface dispatch offset recorded at a call site.
// Untagged offsets index ITable.Slots. The tag bits mark offsets that do
// not go through the iTable at all.
type ITableOffset uint64

const (
	// ITableOffsetDirect marks a private interface method dispatched
	// directly. Such call sites never reach the dispatch helpers.
	ITableOffsetDirect ITableOffset = 1 << 62
	// ITableOffsetVirtual marks a public java/lang/Object method called
	// through an interface; the untagged value is the vTable slot.
	ITableOffsetVirtual ITableOffset = 1 << 61

	iTableOffsetTagBits = ITableOffsetDirect | ITableOffsetVirtual
)

// Tagged reports whether the offset carries a tag bit.
func (o ITableOffset) Tagged() bool { return o&iTableOffsetTagBits != 0 }

// Untagged strips the tag bits.
func (o ITableOffset) Untagged() int { return int(o &^ iTableOffsetTagBits) }

func (o ITableOffset) String() string {
	switch {
	case o&ITableOffsetDirect != 0:
		return fmt.Sprintf("direct(%d)", o.Untagged())
	case o&ITableOffsetVirtual != 0:
		return fmt.Sprintf("virtual(%d)", o.Untagged())
	}
	return fmt.Sprintf("itable(%d)", o.Untagged())
}

// lookupITable finds the iTable of iface in receiver's chain. The class's
// last-hit iTable is consulted first and updated on a chain hit. The cache
// is a hint: a racing update can only make the next lookup scan again.
func lookupITable(receiver, iface *Class) *ITable {
	if it := receiver.lastITable.Load(); it != nil && it.Interface == iface {
		return it
	}
	for it := receiver.iTable; it != nil; it = it.Next {
		if it.Interface == iface {
			receiver.lastITable.Store(it)
			return it
		}
	}
	return nil
}

// ConvertITableOffsetToVTableOffset translates an interface dispatch
// offset into a vTable slot for receiver. It returns 0 when receiver does
// not implement iface.
func ConvertITableOffsetToVTableOffset(receiver, iface *Class, offset ITableOffset) int {
	it := lookupITable(receiver, iface)
	if it == nil {
		return 0
	}
	if offset.Tagged() {
		if offset&ITableOffsetDirect != 0 {
			panic("vm: direct interface offset reached interface dispatch")
		}
		return offset.Untagged()
	}
	i := offset.Untagged()
	if i >= len(it.Slots) {
		return 0
	}
	return it.Slots[i]
}
