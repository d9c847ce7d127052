package vm

import (
	"strings"
	"sync"
	"sync/atomic"
)

// AccessFlags are the class-file access modifiers of classes, methods and
// fields.
type AccessFlags uint32

const (
	AccPublic       AccessFlags = 0x0001
	AccPrivate      AccessFlags = 0x0002
	AccProtected    AccessFlags = 0x0004
	AccStatic       AccessFlags = 0x0008
	AccFinal        AccessFlags = 0x0010
	AccSynchronized AccessFlags = 0x0020
	AccVolatile     AccessFlags = 0x0040
	AccNative       AccessFlags = 0x0100
	AccInterface    AccessFlags = 0x0200
	AccAbstract     AccessFlags = 0x0400
)

// ClassFlags are runtime properties of a class that are not access
// modifiers.
type ClassFlags uint32

const (
	// ClassValueType marks an identity-less value class.
	ClassValueType ClassFlags = 1 << iota
	// ClassPrimitiveValueType marks a null-restricted value class. A null
	// reference can never be cast to it.
	ClassPrimitiveValueType
	// ClassValueBased marks classes annotated as value-based. Locking
	// them is diagnosed when the VM is configured to do so.
	ClassValueBased
)

// PrimitiveType is the newarray type code of a primitive element type.
type PrimitiveType uint8

const (
	TBoolean PrimitiveType = 4
	TChar    PrimitiveType = 5
	TFloat   PrimitiveType = 6
	TDouble  PrimitiveType = 7
	TByte    PrimitiveType = 8
	TShort   PrimitiveType = 9
	TInt     PrimitiveType = 10
	TLong    PrimitiveType = 11
)

var primitiveDescriptors = [...]string{
	TBoolean: "Z", TChar: "C", TFloat: "F", TDouble: "D",
	TByte: "B", TShort: "S", TInt: "I", TLong: "J",
}

var primitiveSizes = [...]int{
	TBoolean: 1, TChar: 2, TFloat: 4, TDouble: 8,
	TByte: 1, TShort: 2, TInt: 4, TLong: 8,
}

// Valid reports whether p is a newarray type code.
func (p PrimitiveType) Valid() bool { return p >= TBoolean && p <= TLong }

// Descriptor returns the one-character field descriptor of p.
func (p PrimitiveType) Descriptor() string { return primitiveDescriptors[p] }

// Field is a resolved field of a class.
type Field struct {
	Class      *Class
	Name       string
	Descriptor string
	Modifiers  AccessFlags

	index int // slot index in instances or in the class statics
}

func (f *Field) IsStatic() bool   { return f.Modifiers&AccStatic != 0 }
func (f *Field) IsVolatile() bool { return f.Modifiers&AccVolatile != 0 }
func (f *Field) IsFinal() bool    { return f.Modifiers&AccFinal != 0 }

// IsReference reports whether the field holds a reference.
func (f *Field) IsReference() bool {
	return strings.HasPrefix(f.Descriptor, "L") || strings.HasPrefix(f.Descriptor, "[")
}

// Offset is the byte offset compiled code uses to address an instance
// field.
func (f *Field) Offset() int { return ObjectHeaderSize + f.index*SlotSize }

// Method is a resolved method.
type Method struct {
	Class      *Class
	Name       string
	Descriptor string
	Modifiers  AccessFlags

	vTableIndex int // 0 when the method is not dispatched virtually
	iTableIndex int // position in the declaring interface

	traced atomic.Bool
}

func (m *Method) IsPublic() bool       { return m.Modifiers&AccPublic != 0 }
func (m *Method) IsPrivate() bool      { return m.Modifiers&AccPrivate != 0 }
func (m *Method) IsStatic() bool       { return m.Modifiers&AccStatic != 0 }
func (m *Method) IsNative() bool       { return m.Modifiers&AccNative != 0 }
func (m *Method) IsAbstract() bool     { return m.Modifiers&AccAbstract != 0 }
func (m *Method) IsSynchronized() bool { return m.Modifiers&AccSynchronized != 0 }

// VTableIndex returns the method's vTable slot, or 0.
func (m *Method) VTableIndex() int { return m.vTableIndex }

// SetTraced turns method tracing on or off. Traced methods report entry
// and exit even when no hook is registered.
func (m *Method) SetTraced(on bool) { m.traced.Store(on) }

// Traced reports whether the method is being traced.
func (m *Method) Traced() bool { return m.traced.Load() }

func (m *Method) String() string {
	return m.Class.JavaName() + "." + m.Name + m.Descriptor
}

// initState is the class initialization state.
type initState uint8

const (
	initUninitialized initState = iota
	initInProgress
	initDone
	initFailed
)

// Class is a loaded, linked class, interface or array class.
type Class struct {
	Name       string // internal form, e.g. java/lang/String
	Superclass *Class
	Interfaces []*Class // direct superinterfaces
	Modifiers  AccessFlags
	Flags      ClassFlags
	Loader     *ClassLoader
	Pool       *ConstantPool
	SourceFile string

	depth        int
	superclasses []*Class // superclasses[d] is the ancestor at depth d

	vTable     *VTable
	iTable     *ITable
	lastITable atomic.Pointer[ITable]

	methods       []*Method
	fields        []*Field
	instanceSlots int
	statics       []Slot

	componentType *Class
	primitive     PrimitiveType // set on the classes standing for int, long...
	arrayClass    atomic.Pointer[Class]

	initializer func(t *Thread) *Throwable
	initMu      sync.Mutex
	initCond    *sync.Cond
	initState   atomic.Uint32
	initThread  *Thread
	initError   *Throwable

	callSites    []atomic.Pointer[Object]
	callSiteRefs []*InvokeDynamicRef
}

// JavaName returns the dotted class name.
func (c *Class) JavaName() string { return strings.ReplaceAll(c.Name, "/", ".") }

func (c *Class) String() string { return c.JavaName() }

func (c *Class) IsInterface() bool { return c.Modifiers&AccInterface != 0 }
func (c *Class) IsAbstract() bool  { return c.Modifiers&AccAbstract != 0 }
func (c *Class) IsPublic() bool    { return c.Modifiers&AccPublic != 0 }
func (c *Class) IsArray() bool     { return c.componentType != nil }

// IsValueType reports whether the class is an identity-less value class.
func (c *Class) IsValueType() bool { return c.Flags&ClassValueType != 0 }

// IsPrimitiveValueType reports whether the class is null-restricted.
func (c *Class) IsPrimitiveValueType() bool { return c.Flags&ClassPrimitiveValueType != 0 }

// IsValueBased reports whether the class is annotated value-based.
func (c *Class) IsValueBased() bool { return c.Flags&ClassValueBased != 0 }

// AllocatesViaNew reports whether the new bytecode may instantiate c.
func (c *Class) AllocatesViaNew() bool {
	return !c.IsInterface() && !c.IsAbstract() && !c.IsArray() && !c.IsValueType()
}

// Depth is the superclass depth. java/lang/Object has depth 0.
func (c *Class) Depth() int { return c.depth }

// ComponentType returns the element class of an array class.
func (c *Class) ComponentType() *Class { return c.componentType }

// ArrayClass returns the array class whose component is c, if it has been
// created.
func (c *Class) ArrayClass() *Class { return c.arrayClass.Load() }

// VTable returns the class dispatch table.
func (c *Class) VTable() *VTable { return c.vTable }

// Methods returns the methods declared by c.
func (c *Class) Methods() []*Method { return c.methods }

// Initialized reports whether class initialization has completed.
func (c *Class) Initialized() bool { return initState(c.initState.Load()) == initDone }

// StaticSlot returns the storage of a named static field.
func (c *Class) StaticSlot(name string) *Slot {
	f := c.FindField(name)
	if f == nil || !f.IsStatic() {
		return nil
	}
	return &f.Class.statics[f.index]
}

// FindField looks up a field by name in c and its superclasses.
func (c *Class) FindField(name string) *Field {
	for k := c; k != nil; k = k.Superclass {
		for _, f := range k.fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// FindMethod looks up a method by name and descriptor in c and its
// superclasses, then in its superinterfaces.
func (c *Class) FindMethod(name, descriptor string) *Method {
	for k := c; k != nil; k = k.Superclass {
		if m := k.declaredMethod(name, descriptor); m != nil {
			return m
		}
	}
	for it := c.iTable; it != nil; it = it.Next {
		if m := it.Interface.declaredMethod(name, descriptor); m != nil {
			return m
		}
	}
	return nil
}

func (c *Class) declaredMethod(name, descriptor string) *Method {
	for _, m := range c.methods {
		if m.Name == name && m.Descriptor == descriptor {
			return m
		}
	}
	return nil
}

func (c *Class) elementSize() int {
	if c.componentType != nil && c.componentType.primitive != 0 {
		return primitiveSizes[c.componentType.primitive]
	}
	return SlotSize
}

// isSubtype is the inline assignability test used by checkcast,
// instanceof and the array-store check.
func isSubtype(instance, cast *Class) bool {
	if instance == cast {
		return true
	}
	switch {
	case cast.IsInterface():
		return instance.implements(cast)
	case cast.IsArray():
		if !instance.IsArray() {
			return false
		}
		ic, cc := instance.componentType, cast.componentType
		if ic.isPrimitiveClass() || cc.isPrimitiveClass() {
			return ic == cc
		}
		return isSubtype(ic, cc)
	default:
		d := cast.depth
		return d < instance.depth && instance.superclasses[d] == cast
	}
}

// implements scans the iTable chain for iface.
func (c *Class) implements(iface *Class) bool {
	for it := c.iTable; it != nil; it = it.Next {
		if it.Interface == iface {
			return true
		}
	}
	return false
}

// isPrimitiveClass reports whether c stands for a primitive type such as
// int.
func (c *Class) isPrimitiveClass() bool { return c.primitive != 0 }
