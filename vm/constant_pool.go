package vm

import (
	"fmt"
	"sync/atomic"
)

// CPTag identifies the kind of a constant-pool entry.
type CPTag uint8

const (
	TagClass            CPTag = 7
	TagString           CPTag = 8
	TagFieldRef         CPTag = 9
	TagMethodRef        CPTag = 10
	TagInterfaceRef     CPTag = 11
	TagMethodHandle     CPTag = 15
	TagMethodType       CPTag = 16
	TagDynamic          CPTag = 17
	TagInvokeDynamic    CPTag = 18
	TagStaticFieldRef   CPTag = 100
	TagStaticMethodRef  CPTag = 101
	TagSpecialMethodRef CPTag = 102
)

// Resolution states of constant-pool entries are write-once: the zero
// value means unresolved, and the first successful compare-and-swap wins.
// Later resolvers observe the winner by re-reading the entry.

// CPEntry is one constant-pool entry.
type CPEntry interface {
	Tag() CPTag
}

// ClassRef names a class.
type ClassRef struct {
	Name     string
	resolved atomic.Pointer[Class]
}

func (*ClassRef) Tag() CPTag { return TagClass }

// Resolved returns the resolved class or nil.
func (r *ClassRef) Resolved() *Class { return r.resolved.Load() }

// StringRef is a string literal.
type StringRef struct {
	Value    string
	resolved atomic.Pointer[Object]
}

func (*StringRef) Tag() CPTag { return TagString }

// Resolved returns the interned string object or nil.
func (r *StringRef) Resolved() *Object { return r.resolved.Load() }

// ResolvedField is the cached result of instance field resolution.
type ResolvedField struct {
	Field  *Field
	Offset int
}

// FieldRef is an instance field reference. Resolution for writing checks
// final-field access and is cached separately from resolution for reading.
type FieldRef struct {
	ClassIndex int
	Name       string
	Descriptor string

	resolved    atomic.Pointer[ResolvedField]
	putResolved atomic.Bool
}

func (*FieldRef) Tag() CPTag { return TagFieldRef }

// Resolved returns the resolved field or nil. With forPut, the entry
// counts as resolved only after a setter resolution succeeded.
func (r *FieldRef) Resolved(forPut bool) *ResolvedField {
	rf := r.resolved.Load()
	if rf == nil || (forPut && !r.putResolved.Load()) {
		return nil
	}
	return rf
}

// StaticFieldRef is a static field reference.
type StaticFieldRef struct {
	ClassIndex int
	Name       string
	Descriptor string

	resolved    atomic.Pointer[Field]
	putResolved atomic.Bool
}

func (*StaticFieldRef) Tag() CPTag { return TagStaticFieldRef }

// Resolved returns the resolved field or nil.
func (r *StaticFieldRef) Resolved(forPut bool) *Field {
	f := r.resolved.Load()
	if f == nil || (forPut && !r.putResolved.Load()) {
		return nil
	}
	return f
}

// Slot returns the static storage of the resolved field.
func (r *StaticFieldRef) Slot() *Slot {
	f := r.resolved.Load()
	if f == nil {
		return nil
	}
	return &f.Class.statics[f.index]
}

// MethodRef is a method reference used by invokevirtual, invokestatic and
// invokespecial.
type MethodRef struct {
	ClassIndex int
	Name       string
	Descriptor string
	tag        CPTag

	method      atomic.Pointer[Method]
	vTableIndex atomic.Int64
}

// NewMethodRef creates a method reference. tag selects the invoke kind:
// TagMethodRef (virtual), TagStaticMethodRef or TagSpecialMethodRef.
func NewMethodRef(tag CPTag, classIndex int, name, descriptor string) *MethodRef {
	return &MethodRef{ClassIndex: classIndex, Name: name, Descriptor: descriptor, tag: tag}
}

func (r *MethodRef) Tag() CPTag { return r.tag }

// Method returns the resolved target, or nil.
func (r *MethodRef) Method() *Method { return r.method.Load() }

// Virtual method refs start at InitialVirtualOffset and hold a vTable slot
// or InvokePrivateOffset once resolved.
const (
	InitialVirtualOffset = 0
	InvokePrivateOffset  = -1
)

// VTableIndex returns the resolved virtual dispatch slot.
func (r *MethodRef) VTableIndex() int { return int(r.vTableIndex.Load()) }

// InterfaceMethodRef is an interface method reference.
type InterfaceMethodRef struct {
	ClassIndex int
	Name       string
	Descriptor string

	resolved atomic.Pointer[InterfaceResolution]
}

func (*InterfaceMethodRef) Tag() CPTag { return TagInterfaceRef }

// Resolved returns the cached resolution, or nil.
func (r *InterfaceMethodRef) Resolved() *InterfaceResolution { return r.resolved.Load() }

// InterfaceResolution is what an interface call site needs to dispatch.
type InterfaceResolution struct {
	Interface *Class
	Offset    ITableOffset
	Method    *Method
}

// MethodTypeRef is a method type constant.
type MethodTypeRef struct {
	Descriptor string
	resolved   atomic.Pointer[Object]
}

func (*MethodTypeRef) Tag() CPTag { return TagMethodType }

// Resolved returns the MethodType object or nil.
func (r *MethodTypeRef) Resolved() *Object { return r.resolved.Load() }

// MethodHandleRef is a method handle constant referring to a member.
type MethodHandleRef struct {
	Kind     int
	RefIndex int
	resolved atomic.Pointer[Object]
}

func (*MethodHandleRef) Tag() CPTag { return TagMethodHandle }

// Resolved returns the MethodHandle object or nil.
func (r *MethodHandleRef) Resolved() *Object { return r.resolved.Load() }

// BootstrapFunc stands in for a bootstrap method: it produces the value of
// a dynamic constant or the target of an invokedynamic call site.
type BootstrapFunc func(t *Thread) (*Object, *Throwable)

// ConstantDynamicRef is a dynamically-computed constant. A resolved value
// may legitimately be null, which is recorded separately from "not yet
// resolved". A failed resolution records its exception, and every later
// resolution rethrows it.
type ConstantDynamicRef struct {
	Name       string
	Descriptor string
	Bootstrap  BootstrapFunc

	value        atomic.Pointer[Object]
	resolvedNull atomic.Bool
	failure      atomic.Pointer[Throwable]
}

func (*ConstantDynamicRef) Tag() CPTag { return TagDynamic }

// Resolved returns the constant and whether it has been resolved.
func (r *ConstantDynamicRef) Resolved() (*Object, bool) {
	if v := r.value.Load(); v != nil {
		return v, true
	}
	return nil, r.resolvedNull.Load()
}

// InvokeDynamicRef describes an invokedynamic call site. Its resolved
// target lives in the owning class's call-site table.
type InvokeDynamicRef struct {
	CallSiteIndex int
	Name          string
	Descriptor    string
	Bootstrap     BootstrapFunc
}

func (*InvokeDynamicRef) Tag() CPTag { return TagInvokeDynamic }

// Split-table flags on method-ref indices passed to the special and static
// resolution helpers. Flagged indices select from the pool's split tables
// instead of addressing entries directly.
const (
	StaticSplitTableIndexFlag  = 1 << 16
	SpecialSplitTableIndexFlag = 1 << 17
	splitTableIndexMask        = 1<<16 - 1
)

// ConstantPool is the per-class runtime constant pool.
type ConstantPool struct {
	Class   *Class
	entries []CPEntry

	StaticSplitTable  []int
	SpecialSplitTable []int
}

// NewConstantPool creates a pool. Index 0 is unused, as in class files;
// entries[0] may be nil.
func NewConstantPool(entries ...CPEntry) *ConstantPool {
	return &ConstantPool{entries: append([]CPEntry{nil}, entries...)}
}

// Len returns the number of entries, including the unused slot 0.
func (p *ConstantPool) Len() int { return len(p.entries) }

// Entry returns entry i.
func (p *ConstantPool) Entry(i int) CPEntry {
	if i <= 0 || i >= len(p.entries) {
		panic(fmt.Sprintf("vm: constant pool index %d out of range", i))
	}
	return p.entries[i]
}

func entryAs[T CPEntry](p *ConstantPool, i int) T {
	e, ok := p.Entry(i).(T)
	if !ok {
		var want T
		panic(fmt.Sprintf("vm: constant pool index %d is %T, not %T", i, p.entries[i], want))
	}
	return e
}

func (p *ConstantPool) ClassRef(i int) *ClassRef                     { return entryAs[*ClassRef](p, i) }
func (p *ConstantPool) StringRef(i int) *StringRef                   { return entryAs[*StringRef](p, i) }
func (p *ConstantPool) FieldRef(i int) *FieldRef                     { return entryAs[*FieldRef](p, i) }
func (p *ConstantPool) StaticFieldRef(i int) *StaticFieldRef         { return entryAs[*StaticFieldRef](p, i) }
func (p *ConstantPool) MethodRef(i int) *MethodRef                   { return entryAs[*MethodRef](p, i) }
func (p *ConstantPool) InterfaceMethodRef(i int) *InterfaceMethodRef { return entryAs[*InterfaceMethodRef](p, i) }
func (p *ConstantPool) MethodTypeRef(i int) *MethodTypeRef           { return entryAs[*MethodTypeRef](p, i) }
func (p *ConstantPool) MethodHandleRef(i int) *MethodHandleRef       { return entryAs[*MethodHandleRef](p, i) }
func (p *ConstantPool) ConstantDynamicRef(i int) *ConstantDynamicRef { return entryAs[*ConstantDynamicRef](p, i) }

// splitIndex maps a possibly split-flagged method index to a pool index.
func (p *ConstantPool) splitIndex(index int) int {
	switch {
	case index&StaticSplitTableIndexFlag != 0:
		return p.StaticSplitTable[index&splitTableIndexMask]
	case index&SpecialSplitTableIndexFlag != 0:
		return p.SpecialSplitTable[index&splitTableIndexMask]
	}
	return index
}

// CallSiteLiterals is the literal area of a virtual or interface call
// site: the constant pool and the method-ref index.
type CallSiteLiterals struct {
	Pool  *ConstantPool
	Index int
}

// InterfaceCallSite is the literal area of an interface call site. The
// resolution helper fills it in once, inside the code cache write-protect
// bracket; dispatch helpers read it afterwards.
type InterfaceCallSite struct {
	CallSiteLiterals

	resolved atomic.Pointer[InterfaceResolution]
}

// Resolution returns the populated call-site data, or nil.
func (s *InterfaceCallSite) Resolution() *InterfaceResolution { return s.resolved.Load() }
