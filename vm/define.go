package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// ClassDef describes a class to define. It replaces class-file parsing:
// callers state the shape of the class directly.
type ClassDef struct {
	Name       string
	Super      string // defaults to java/lang/Object
	Interfaces []string
	Modifiers  AccessFlags
	Flags      ClassFlags
	Fields     []FieldDef
	Methods    []MethodDef
	// Pool lists constant-pool entries starting at index 1.
	Pool       []CPEntry
	SourceFile string

	// Initializer is the class initializer body, if any. Returning a
	// Throwable makes initialization fail.
	Initializer func(t *Thread) *Throwable

	// CallSites lists the invokedynamic call sites of the class, indexed
	// by InvokeDynamicRef.CallSiteIndex.
	CallSites []*InvokeDynamicRef
}

// FieldDef describes a field.
type FieldDef struct {
	Name       string
	Descriptor string
	Modifiers  AccessFlags
}

// MethodDef describes a method.
type MethodDef struct {
	Name       string
	Descriptor string
	Modifiers  AccessFlags
}

// DefineClass links def into loader. Superclass and superinterfaces must
// already be visible from loader.
func (vm *VM) DefineClass(loader *ClassLoader, def ClassDef) (*Class, error) {
	if loader == nil {
		loader = vm.bootLoader
	}
	if loader.FindClass(def.Name) != nil {
		return nil, fmt.Errorf("define %s: class already defined", def.Name)
	}
	c := &Class{
		Name:       def.Name,
		Modifiers:  def.Modifiers,
		Flags:      def.Flags,
		Loader:     loader,
		SourceFile: def.SourceFile,

		initializer:  def.Initializer,
		callSiteRefs: def.CallSites,
	}
	c.initCond = sync.NewCond(&c.initMu)
	c.callSites = make([]atomic.Pointer[Object], len(def.CallSites))
	c.Pool = NewConstantPool(def.Pool...)
	c.Pool.Class = c

	if def.Name != "java/lang/Object" {
		superName := def.Super
		if superName == "" {
			superName = "java/lang/Object"
		}
		super := loader.FindClass(superName)
		if super == nil {
			return nil, fmt.Errorf("define %s: superclass %s not found", def.Name, superName)
		}
		if super.IsInterface() {
			return nil, fmt.Errorf("define %s: superclass %s is an interface", def.Name, superName)
		}
		c.Superclass = super
	}
	for _, name := range def.Interfaces {
		iface := loader.FindClass(name)
		if iface == nil {
			return nil, fmt.Errorf("define %s: interface %s not found", def.Name, name)
		}
		if !iface.IsInterface() {
			return nil, fmt.Errorf("define %s: %s is not an interface", def.Name, name)
		}
		c.Interfaces = append(c.Interfaces, iface)
	}

	c.linkHierarchy()
	c.linkFields(def.Fields)
	c.linkMethods(def.Methods)
	c.linkITables()
	if def.Initializer == nil {
		c.initState.Store(uint32(initDone))
	}

	if err := loader.add(c); err != nil {
		return nil, fmt.Errorf("define %s: %w", def.Name, err)
	}
	log.Debugf("defined class %s (depth %d, %d vtable slots)", c.JavaName(), c.depth, c.vTableLen())
	return c, nil
}

func (c *Class) vTableLen() int {
	if c.vTable == nil {
		return 0
	}
	return c.vTable.Len()
}

func (c *Class) linkHierarchy() {
	if c.Superclass == nil {
		return
	}
	s := c.Superclass
	c.depth = s.depth + 1
	c.superclasses = make([]*Class, c.depth)
	copy(c.superclasses, s.superclasses)
	c.superclasses[s.depth] = s
}

func (c *Class) linkFields(defs []FieldDef) {
	if c.Superclass != nil {
		c.instanceSlots = c.Superclass.instanceSlots
	}
	statics := 0
	for _, d := range defs {
		f := &Field{Class: c, Name: d.Name, Descriptor: d.Descriptor, Modifiers: d.Modifiers}
		if f.IsStatic() {
			f.index = statics
			statics++
		} else {
			f.index = c.instanceSlots
			c.instanceSlots++
		}
		c.fields = append(c.fields, f)
	}
	c.statics = make([]Slot, statics)
}

func (c *Class) linkMethods(defs []MethodDef) {
	if !c.IsInterface() {
		var parent *VTable
		if c.Superclass != nil {
			parent = c.Superclass.vTable
		}
		c.vTable = newVTable(c, parent)
	}
	next := 0
	for _, d := range defs {
		m := &Method{Class: c, Name: d.Name, Descriptor: d.Descriptor, Modifiers: d.Modifiers}
		c.methods = append(c.methods, m)
		if c.IsInterface() {
			if !m.IsStatic() && !m.IsPrivate() {
				m.iTableIndex = next
				next++
			}
			continue
		}
		if !m.IsStatic() && !m.IsPrivate() && m.Name != "<init>" {
			m.vTableIndex = c.vTable.AddMethod(m)
		}
	}
}

// interfaceMethods returns the methods an iTable of iface maps, in
// iTableIndex order.
func (c *Class) interfaceMethods() []*Method {
	var ms []*Method
	for _, m := range c.methods {
		if !m.IsStatic() && !m.IsPrivate() {
			ms = append(ms, m)
		}
	}
	return ms
}

// allInterfaces lists every interface c implements, own interfaces and
// their superinterfaces first, then those inherited from the superclass.
func (c *Class) allInterfaces() []*Class {
	var out []*Class
	seen := map[*Class]bool{}
	var visit func(i *Class)
	visit = func(i *Class) {
		if seen[i] {
			return
		}
		seen[i] = true
		out = append(out, i)
		for _, s := range i.Interfaces {
			visit(s)
		}
	}
	if c.IsInterface() {
		visit(c)
	}
	for _, i := range c.Interfaces {
		visit(i)
	}
	if c.Superclass != nil {
		for it := c.Superclass.iTable; it != nil; it = it.Next {
			visit(it.Interface)
		}
	}
	return out
}

func (c *Class) linkITables() {
	var head, tail *ITable
	for _, iface := range c.allInterfaces() {
		it := &ITable{Interface: iface}
		if c.vTable != nil {
			for _, m := range iface.interfaceMethods() {
				slot := c.vTable.indexOf(m.Name, m.Descriptor)
				if slot == 0 {
					// Default or still-abstract interface method: give it a
					// slot so dispatch finds it.
					slot = c.vTable.addIfMissing(m)
				}
				it.Slots = append(it.Slots, slot)
			}
		}
		if head == nil {
			head = it
		} else {
			tail.Next = it
		}
		tail = it
	}
	c.iTable = head
}

// ---------------------------------------------------------------------------
// Array and primitive classes
// ---------------------------------------------------------------------------

func descriptorOf(c *Class) string {
	switch {
	case c.primitive != 0:
		return c.primitive.Descriptor()
	case c.IsArray():
		return c.Name
	}
	return "L" + c.Name + ";"
}

// newArrayClass builds the array class of component without publishing it.
func (vm *VM) newArrayClass(component *Class) *Class {
	object := vm.objectClass
	loader := component.Loader
	if loader == nil {
		loader = vm.bootLoader
	}
	ac := &Class{
		Name:          "[" + descriptorOf(component),
		Superclass:    object,
		Modifiers:     AccPublic | AccFinal | AccAbstract,
		Loader:        loader,
		componentType: component,
	}
	ac.initCond = sync.NewCond(&ac.initMu)
	ac.initState.Store(uint32(initDone))
	ac.linkHierarchy()
	ac.vTable = newVTable(ac, object.vTable)
	for _, name := range []string{"java/lang/Cloneable", "java/io/Serializable"} {
		if iface := vm.bootLoader.FindClass(name); iface != nil {
			ac.Interfaces = append(ac.Interfaces, iface)
		}
	}
	ac.linkITables()
	return ac
}

// arrayClassOf returns the array class of component, creating and
// publishing it if needed. Concurrent creators agree on one class.
func (vm *VM) arrayClassOf(component *Class) *Class {
	if ac := component.arrayClass.Load(); ac != nil {
		return ac
	}
	ac := vm.newArrayClass(component)
	if component.arrayClass.CompareAndSwap(nil, ac) {
		leaf := component
		for leaf.componentType != nil {
			leaf = leaf.componentType
		}
		// Arrays of primitives are reached through the primitive array
		// classes, not the loader table.
		if leaf.primitive == 0 {
			if err := ac.Loader.add(ac); err != nil {
				log.Warningf("array class %s: %s", ac.Name, err)
			}
		}
		return ac
	}
	return component.arrayClass.Load()
}

func (vm *VM) definePrimitive(name string, p PrimitiveType) *Class {
	c := &Class{Name: name, Modifiers: AccPublic | AccFinal | AccAbstract, Loader: vm.bootLoader, primitive: p}
	c.initCond = sync.NewCond(&c.initMu)
	c.initState.Store(uint32(initDone))
	return c
}
