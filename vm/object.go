package vm

import (
	"fmt"
	"math"
	"sync/atomic"
)

// PC is an address inside compiled code.
type PC uintptr

// ObjectHeaderSize is the number of bytes preceding the first field of an
// object. Field offsets handed to compiled code include it.
const ObjectHeaderSize = 16

// SlotSize is the width of one field or array element slot.
const SlotSize = 8

// Slot is one field or array element. A slot holds either primitive bits
// or a reference; which one is decided by the field or array type.
type Slot struct {
	bits atomic.Uint64
	ref  atomic.Pointer[Object]
}

// Bits returns the primitive contents of the slot.
func (s *Slot) Bits() uint64 { return s.bits.Load() }

// SetBits stores primitive contents.
func (s *Slot) SetBits(v uint64) { s.bits.Store(v) }

// Ref returns the reference contents of the slot.
func (s *Slot) Ref() *Object { return s.ref.Load() }

// SetRef stores a reference. Callers that store into the heap from
// compiled code must follow up with a write barrier.
func (s *Slot) SetRef(o *Object) { s.ref.Store(o) }

// Int64 and Float64 views are used by the volatile access helpers.
func (s *Slot) Int64() int64 { return int64(s.bits.Load()) }

func (s *Slot) SetInt64(v int64) { s.bits.Store(uint64(v)) }

func (s *Slot) Float64() float64 { return math.Float64frombits(s.bits.Load()) }

func (s *Slot) SetFloat64(v float64) { s.bits.Store(math.Float64bits(v)) }

// Object is a heap instance or array.
type Object struct {
	class *Class
	lock  atomic.Uint64 // lockword, see monitor.go
	hash  atomic.Int32

	slots  []Slot
	length int32 // arrays only

	// payload carries the host value for strings, method types and
	// other runtime-created objects.
	payload any

	// tenured is set once the object has survived into the old
	// generation. The generational barrier consults it.
	tenured atomic.Bool
}

func newObject(class *Class, slots int) *Object {
	return &Object{class: class, slots: make([]Slot, slots)}
}

func newArray(class *Class, length int32) *Object {
	return &Object{class: class, slots: make([]Slot, length), length: length}
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// IsArray reports whether the object is an array.
func (o *Object) IsArray() bool { return o.class.IsArray() }

// Length returns the array length. It panics for non-arrays.
func (o *Object) Length() int32 {
	if !o.IsArray() {
		panic(fmt.Sprintf("vm: Length on non-array %s", o.class.Name))
	}
	return o.length
}

// Element returns the slot for array index i. Bounds are not checked;
// callers check against Length first as compiled code does.
func (o *Object) Element(i int32) *Slot { return &o.slots[i] }

// SlotAt returns the slot at a resolved byte offset.
func (o *Object) SlotAt(offset int) *Slot {
	return &o.slots[(offset-ObjectHeaderSize)/SlotSize]
}

// Field returns the slot for a named instance field.
func (o *Object) Field(name string) *Slot {
	f := o.class.FindField(name)
	if f == nil || f.IsStatic() {
		panic(fmt.Sprintf("vm: %s has no instance field %s", o.class.Name, name))
	}
	return &o.slots[f.index]
}

// Payload returns the host value attached to runtime-created objects.
func (o *Object) Payload() any { return o.payload }

// StringValue returns the contents of a java/lang/String object.
func (o *Object) StringValue() string {
	s, _ := o.payload.(string)
	return s
}

// Tenure marks the object as old-generation.
func (o *Object) Tenure() { o.tenured.Store(true) }

// IsTenured reports whether the object is in the old generation.
func (o *Object) IsTenured() bool { return o.tenured.Load() }

func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	if s, ok := o.payload.(string); ok && o.class.Name == "java/lang/String" {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%s@%p", o.class.JavaName(), o)
}

// instanceBytes is the allocation size of an object of class c.
func instanceBytes(c *Class) int64 {
	return ObjectHeaderSize + int64(c.instanceSlots)*SlotSize
}

// arrayBytes is the allocation size of an array of class c.
func arrayBytes(c *Class, length int32) int64 {
	return ObjectHeaderSize + int64(length)*int64(c.elementSize())
}
