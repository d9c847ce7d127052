package vm

import (
	"strings"
)

// ResolveFlags modify a constant-pool resolution.
type ResolveFlags uint32

const (
	// ResolveRuntime marks resolutions requested by compiled code at run
	// time rather than ahead of execution.
	ResolveRuntime ResolveFlags = 1 << iota
	// ResolveFieldSetter resolves a field for writing.
	ResolveFieldSetter
	// ResolveNoClassInit skips initialization of the member's class.
	ResolveNoClassInit
)

// Sentinels returned by Linker.ResolveStaticField and
// Linker.ResolveStaticMethod when the member was resolved by the thread
// that is running its class initializer. The entry is not cached; the real
// result is in the thread's clinit stash.
var (
	StashedField  = new(Field)
	StashedMethod = new(Method)
)

// Linker is the class-loading and linking subsystem as the resolution
// helpers see it. Every Resolve method either caches its result in the
// constant-pool entry and returns it, or returns the zero value with an
// exception pending on t.
type Linker interface {
	ResolveClass(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Class
	ResolveString(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object
	ResolveInstanceField(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *ResolvedField
	ResolveStaticField(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Field
	ResolveStaticMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Method
	ResolveSpecialMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Method
	// ResolveVirtualMethod returns the vTable slot, or InvokePrivateOffset
	// together with the directly invoked method.
	ResolveVirtualMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) (int, *Method)
	ResolveInterfaceMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *InterfaceResolution
	ResolveMethodType(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object
	ResolveMethodHandle(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object
	ResolveInvokeDynamic(t *Thread, pool *ConstantPool, callSiteIndex int, flags ResolveFlags) *Object
	// ResolveConstantDynamic reports ok=false when an exception is pending.
	// A resolved constant may be null.
	ResolveConstantDynamic(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) (value *Object, ok bool)

	// InitializeClass runs class initialization, leaving an exception
	// pending on failure.
	InitializeClass(t *Thread, c *Class)
	// CreateArrayClass returns the array class of component.
	CreateArrayClass(t *Thread, component *Class) *Class
}

// Resolver is the reference Linker. It resolves symbolic references
// against the classes defined in the VM's loaders.
type Resolver struct {
	vm *VM
}

// NewResolver creates the linker of vm.
func NewResolver(vm *VM) *Resolver { return &Resolver{vm: vm} }

func packageOf(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return ""
}

func (r *Resolver) loaderOf(pool *ConstantPool) *ClassLoader {
	if pool.Class != nil && pool.Class.Loader != nil {
		return pool.Class.Loader
	}
	return r.vm.bootLoader
}

// classForName finds a class or array class by internal name.
func (r *Resolver) classForName(t *Thread, loader *ClassLoader, name string) *Class {
	if !strings.HasPrefix(name, "[") {
		return loader.FindClass(name)
	}
	component := r.classForDescriptor(t, loader, name[1:])
	if component == nil {
		return nil
	}
	return r.CreateArrayClass(t, component)
}

func (r *Resolver) classForDescriptor(t *Thread, loader *ClassLoader, desc string) *Class {
	switch {
	case strings.HasPrefix(desc, "["):
		return r.classForName(t, loader, desc)
	case strings.HasPrefix(desc, "L") && strings.HasSuffix(desc, ";"):
		return loader.FindClass(desc[1 : len(desc)-1])
	case len(desc) == 1:
		for p := TBoolean; p <= TLong; p++ {
			if p.Descriptor() == desc {
				return r.vm.primitiveClasses[p]
			}
		}
	}
	return nil
}

func (r *Resolver) ResolveClass(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Class {
	ref := pool.ClassRef(index)
	if c := ref.Resolved(); c != nil {
		return c
	}
	c := r.classForName(t, r.loaderOf(pool), ref.Name)
	if c == nil {
		t.SetCurrentException(KindNoClassDefFoundError, strings.ReplaceAll(ref.Name, "/", "."))
		return nil
	}
	if caller := pool.Class; caller != nil && !c.IsPublic() && !c.IsArray() &&
		packageOf(c.Name) != packageOf(caller.Name) {
		t.SetCurrentException(KindIllegalAccessError,
			"class "+caller.JavaName()+" cannot access class "+c.JavaName())
		return nil
	}
	ref.resolved.CompareAndSwap(nil, c)
	return ref.Resolved()
}

func (r *Resolver) ResolveString(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object {
	ref := pool.StringRef(index)
	if s := ref.Resolved(); s != nil {
		return s
	}
	ref.resolved.CompareAndSwap(nil, r.vm.Intern(ref.Value))
	return ref.Resolved()
}

// fieldTarget resolves the class of a field reference and finds the field.
func (r *Resolver) fieldTarget(t *Thread, pool *ConstantPool, classIndex int, name string) *Field {
	c := r.ResolveClass(t, pool, classIndex, 0)
	if c == nil {
		return nil
	}
	f := c.FindField(name)
	if f == nil {
		t.SetCurrentException(KindNoSuchFieldError, name)
		return nil
	}
	return f
}

// checkFinalPut rejects writes to a final field from outside its class.
func checkFinalPut(t *Thread, pool *ConstantPool, f *Field) bool {
	if !f.IsFinal() || pool.Class == f.Class {
		return true
	}
	t.SetCurrentException(KindIllegalAccessError, "Update to final field "+f.Class.JavaName()+"."+f.Name+
		" attempted from a different class ("+pool.Class.JavaName()+")")
	return false
}

func (r *Resolver) ResolveInstanceField(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *ResolvedField {
	ref := pool.FieldRef(index)
	forPut := flags&ResolveFieldSetter != 0
	if rf := ref.Resolved(forPut); rf != nil {
		return rf
	}
	f := r.fieldTarget(t, pool, ref.ClassIndex, ref.Name)
	if f == nil {
		return nil
	}
	if f.IsStatic() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Expected non-static field "+f.Class.JavaName()+"."+f.Name)
		return nil
	}
	if forPut && !checkFinalPut(t, pool, f) {
		return nil
	}
	ref.resolved.CompareAndSwap(nil, &ResolvedField{Field: f, Offset: f.Offset()})
	if forPut {
		ref.putResolved.Store(true)
	}
	return ref.resolved.Load()
}

func (r *Resolver) ResolveStaticField(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Field {
	ref := pool.StaticFieldRef(index)
	forPut := flags&ResolveFieldSetter != 0
	if f := ref.Resolved(forPut); f != nil {
		return f
	}
	f := r.fieldTarget(t, pool, ref.ClassIndex, ref.Name)
	if f == nil {
		return nil
	}
	if !f.IsStatic() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Expected static field "+f.Class.JavaName()+"."+f.Name)
		return nil
	}
	if forPut && !checkFinalPut(t, pool, f) {
		return nil
	}
	if flags&ResolveNoClassInit == 0 {
		r.InitializeClass(t, f.Class)
		if t.currentException != nil {
			return nil
		}
		if !f.Class.Initialized() {
			// Recursive request from the class's own initializer.
			t.SetClinitStash(f)
			return StashedField
		}
	}
	ref.resolved.CompareAndSwap(nil, f)
	if forPut {
		ref.putResolved.Store(true)
	}
	return ref.resolved.Load()
}

// methodTarget resolves the class of a method reference and finds the
// method.
func (r *Resolver) methodTarget(t *Thread, pool *ConstantPool, ref *MethodRef) *Method {
	c := r.ResolveClass(t, pool, ref.ClassIndex, 0)
	if c == nil {
		return nil
	}
	if c.IsInterface() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Found interface "+c.JavaName()+", but class was expected")
		return nil
	}
	m := c.FindMethod(ref.Name, ref.Descriptor)
	if m == nil {
		t.SetCurrentException(KindNoSuchMethodError, c.JavaName()+"."+ref.Name+ref.Descriptor)
		return nil
	}
	return m
}

func (r *Resolver) ResolveStaticMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Method {
	ref := pool.MethodRef(pool.splitIndex(index))
	if m := ref.Method(); m != nil {
		return m
	}
	m := r.methodTarget(t, pool, ref)
	if m == nil {
		return nil
	}
	if !m.IsStatic() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Expected static method "+m.String())
		return nil
	}
	if flags&ResolveNoClassInit == 0 {
		r.InitializeClass(t, m.Class)
		if t.currentException != nil {
			return nil
		}
		if !m.Class.Initialized() {
			t.SetClinitStash(m)
			return StashedMethod
		}
	}
	ref.method.CompareAndSwap(nil, m)
	return ref.Method()
}

func (r *Resolver) ResolveSpecialMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Method {
	ref := pool.MethodRef(pool.splitIndex(index))
	if m := ref.Method(); m != nil {
		return m
	}
	m := r.methodTarget(t, pool, ref)
	if m == nil {
		return nil
	}
	switch {
	case m.IsStatic():
		t.SetCurrentException(KindIncompatibleClassChangeError, "Expected non-static method "+m.String())
		return nil
	case m.IsAbstract():
		t.SetCurrentException(KindAbstractMethodError, m.String())
		return nil
	}
	ref.method.CompareAndSwap(nil, m)
	return ref.Method()
}

func (r *Resolver) ResolveVirtualMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) (int, *Method) {
	ref := pool.MethodRef(index)
	if m := ref.Method(); m != nil {
		return ref.VTableIndex(), m
	}
	m := r.methodTarget(t, pool, ref)
	if m == nil {
		return InitialVirtualOffset, nil
	}
	if m.IsStatic() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Expected non-static method "+m.String())
		return InitialVirtualOffset, nil
	}
	slot := InvokePrivateOffset
	if !m.IsPrivate() {
		c := pool.ClassRef(ref.ClassIndex).Resolved()
		slot = c.vTable.indexOf(m.Name, m.Descriptor)
	}
	// The slot is published before the method; readers test the method.
	ref.vTableIndex.CompareAndSwap(InitialVirtualOffset, int64(slot))
	ref.method.CompareAndSwap(nil, m)
	return ref.VTableIndex(), ref.Method()
}

func (r *Resolver) ResolveInterfaceMethod(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *InterfaceResolution {
	ref := pool.InterfaceMethodRef(index)
	if res := ref.Resolved(); res != nil {
		return res
	}
	iface := r.ResolveClass(t, pool, ref.ClassIndex, 0)
	if iface == nil {
		return nil
	}
	if !iface.IsInterface() {
		t.SetCurrentException(KindIncompatibleClassChangeError, "Found class "+iface.JavaName()+", but interface was expected")
		return nil
	}
	m := iface.FindMethod(ref.Name, ref.Descriptor)
	if m == nil {
		t.SetCurrentException(KindNoSuchMethodError, iface.JavaName()+"."+ref.Name+ref.Descriptor)
		return nil
	}
	res := &InterfaceResolution{Interface: iface, Method: m}
	switch {
	case !m.Class.IsInterface():
		// Public java/lang/Object method called through the interface.
		if !m.IsPublic() {
			t.SetCurrentException(KindIllegalAccessError, m.String())
			return nil
		}
		res.Offset = ITableOffsetVirtual | ITableOffset(m.vTableIndex)
	case m.IsPrivate():
		res.Interface = m.Class
		res.Offset = ITableOffsetDirect
	default:
		res.Interface = m.Class
		res.Offset = ITableOffset(m.iTableIndex)
	}
	ref.resolved.CompareAndSwap(nil, res)
	return ref.Resolved()
}

func (r *Resolver) ResolveMethodType(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object {
	ref := pool.MethodTypeRef(index)
	if mt := ref.Resolved(); mt != nil {
		return mt
	}
	if !strings.HasPrefix(ref.Descriptor, "(") || !strings.Contains(ref.Descriptor, ")") {
		t.SetCurrentException(KindInternalError, "malformed method descriptor "+ref.Descriptor)
		return nil
	}
	mt := newObject(r.vm.methodTypeClass, 0)
	mt.payload = ref.Descriptor
	ref.resolved.CompareAndSwap(nil, mt)
	return ref.Resolved()
}

// Method handle reference kinds.
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

func (r *Resolver) ResolveMethodHandle(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) *Object {
	ref := pool.MethodHandleRef(index)
	if mh := ref.Resolved(); mh != nil {
		return mh
	}
	var member any
	switch ref.Kind {
	case RefGetField, RefPutField:
		rf := r.ResolveInstanceField(t, pool, ref.RefIndex, 0)
		if rf == nil {
			return nil
		}
		member = rf.Field
	case RefGetStatic, RefPutStatic:
		f := r.ResolveStaticField(t, pool, ref.RefIndex, ResolveNoClassInit)
		if f == nil {
			return nil
		}
		member = f
	case RefInvokeVirtual:
		_, m := r.ResolveVirtualMethod(t, pool, ref.RefIndex, 0)
		if m == nil {
			return nil
		}
		member = m
	case RefInvokeStatic:
		m := r.ResolveStaticMethod(t, pool, ref.RefIndex, ResolveNoClassInit)
		if m == nil {
			return nil
		}
		member = m
	case RefInvokeSpecial, RefNewInvokeSpecial:
		m := r.ResolveSpecialMethod(t, pool, ref.RefIndex, 0)
		if m == nil {
			return nil
		}
		member = m
	case RefInvokeInterface:
		res := r.ResolveInterfaceMethod(t, pool, ref.RefIndex, 0)
		if res == nil {
			return nil
		}
		member = res.Method
	default:
		t.SetCurrentException(KindInternalError, "bad method handle kind")
		return nil
	}
	mh := newObject(r.vm.methodHandleClass, 0)
	mh.payload = member
	ref.resolved.CompareAndSwap(nil, mh)
	return ref.Resolved()
}

// bootstrapFailure wraps a bootstrap exception the way the language
// requires: Errors propagate unchanged, everything else is wrapped in a
// BootstrapMethodError.
func bootstrapFailure(e *Throwable) *Throwable {
	if e.IsKindOf(KindError) {
		return e
	}
	w := NewThrowable(KindBootstrapMethodError, "")
	w.Cause = e
	return w
}

func (r *Resolver) ResolveInvokeDynamic(t *Thread, pool *ConstantPool, callSiteIndex int, flags ResolveFlags) *Object {
	c := pool.Class
	if cs := c.callSites[callSiteIndex].Load(); cs != nil {
		return cs
	}
	ref := c.callSiteRefs[callSiteIndex]
	if ref.Bootstrap == nil {
		t.SetCurrentException(KindBootstrapMethodError, "no bootstrap method for "+ref.Name)
		return nil
	}
	target, e := ref.Bootstrap(t)
	if e != nil {
		t.SetPendingException(bootstrapFailure(e))
		return nil
	}
	if target == nil {
		t.SetCurrentException(KindBootstrapMethodError, "call site bootstrap returned null for "+ref.Name)
		return nil
	}
	c.callSites[callSiteIndex].CompareAndSwap(nil, target)
	return c.callSites[callSiteIndex].Load()
}

func (r *Resolver) ResolveConstantDynamic(t *Thread, pool *ConstantPool, index int, flags ResolveFlags) (*Object, bool) {
	ref := pool.ConstantDynamicRef(index)
	if v, ok := ref.Resolved(); ok {
		return v, true
	}
	if e := ref.failure.Load(); e != nil {
		t.SetPendingException(e)
		return nil, false
	}
	if ref.Bootstrap == nil {
		t.SetCurrentException(KindBootstrapMethodError, "no bootstrap method for "+ref.Name)
		return nil, false
	}
	v, e := ref.Bootstrap(t)
	if e != nil {
		e = bootstrapFailure(e)
		ref.failure.CompareAndSwap(nil, e)
		t.SetPendingException(ref.failure.Load())
		return nil, false
	}
	if v == nil {
		ref.resolvedNull.Store(true)
	} else {
		ref.value.CompareAndSwap(nil, v)
	}
	return ref.Resolved()
}

func (r *Resolver) CreateArrayClass(t *Thread, component *Class) *Class {
	return r.vm.arrayClassOf(component)
}

// ---------------------------------------------------------------------------
// Class initialization
// ---------------------------------------------------------------------------

// claimInitialization decides who initializes c. It returns true when t
// must run the initializer, false when initialization is complete, in
// progress on t itself, or has failed (an exception is then pending).
func (c *Class) claimInitialization(t *Thread) bool {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	for {
		switch initState(c.initState.Load()) {
		case initDone:
			return false
		case initFailed:
			t.SetCurrentException(KindNoClassDefFoundError, "Could not initialize class "+c.JavaName())
			return false
		case initInProgress:
			if c.initThread == t {
				return false
			}
			c.initCond.Wait()
		case initUninitialized:
			c.initState.Store(uint32(initInProgress))
			c.initThread = t
			return true
		}
	}
}

func (c *Class) finishInitialization(err *Throwable) {
	c.initMu.Lock()
	defer c.initMu.Unlock()
	if err != nil {
		c.initError = err
		c.initState.Store(uint32(initFailed))
	} else {
		c.initState.Store(uint32(initDone))
	}
	c.initThread = nil
	c.initCond.Broadcast()
}

// InitializeClass initializes the superclass chain and then c. Threads
// racing to initialize c wait for the winner; a recursive request from
// the initializing thread returns immediately.
func (r *Resolver) InitializeClass(t *Thread, c *Class) {
	if c.Initialized() || !c.claimInitialization(t) {
		return
	}
	if s := c.Superclass; s != nil && !s.Initialized() {
		r.InitializeClass(t, s)
		if e := t.currentException; e != nil {
			c.finishInitialization(e)
			return
		}
	}
	if r.vm.Hooks.IsHooked(HookClassInitialize) {
		r.vm.Hooks.Trigger(HookClassInitialize, &HookData{Thread: t, Class: c})
	}
	var failure *Throwable
	if c.initializer != nil {
		failure = c.initializer(t)
		if failure == nil {
			failure = t.currentException
		}
	}
	if failure != nil {
		if !failure.IsKindOf(KindError) {
			w := NewThrowable(KindExceptionInInitializerError, "")
			w.Cause = failure
			failure = w
		}
		log.Debugf("initialization of %s failed: %s", c.JavaName(), failure)
		c.finishInitialization(failure)
		t.SetPendingException(failure)
		return
	}
	c.finishInitialization(nil)
}
