package vm

// Resolution helpers run entirely on the slow path. Each builds a resolve
// frame returning to the call-site PC it was given, asks the Linker, and
// restores. A changed return address means the caller was deoptimized
// while resolving and the result is not delivered.

// StaticFieldResolution is returned by the static field helpers.
// FromClinit marks a resolution made by the thread running the field
// class's initializer; such results must not be patched into code, as
// other threads still have to wait for initialization.
type StaticFieldResolution struct {
	Field      *Field
	Slot       *Slot
	FromClinit bool
}

// StaticMethodResolution is returned by the static method helper.
type StaticMethodResolution struct {
	Method     *Method
	FromClinit bool
}

// VirtualMethodResolution is returned by the virtual method helper. Direct
// is set, and VTableIndex is InvokePrivateOffset, for private methods.
type VirtualMethodResolution struct {
	VTableIndex int
	Direct      *Method
}

// ---------------------------------------------------------------------------
// Re-read loop
// ---------------------------------------------------------------------------

type resolveState uint8

const (
	resolveCheck resolveState = iota
	resolveLink
	resolveDone
)

// resolveLoop re-reads an entry until it is resolved. check returns the
// cached value; link runs the linker under a frame of kind returning to
// pc. Racing resolvers are harmless: whichever result was published first
// is the one every reader sees.
func resolveLoop[T any](t *Thread, a Args, kind FrameKind, pc PC, check func() (T, bool), link func()) (T, Action) {
	var v T
	state := resolveCheck
	for {
		switch state {
		case resolveCheck:
			var ok bool
			if v, ok = check(); ok {
				state = resolveDone
			} else {
				state = resolveLink
			}
		case resolveLink:
			t.BuildResolveFrameWithPC(kind.Flags(), a.Count(), true, pc)
			link()
			if act := t.restore(pc); act.Kind != ActionResume {
				return v, act
			}
			state = resolveCheck
		case resolveDone:
			return v, actionResume
		}
	}
}

// ---------------------------------------------------------------------------
// Classes and strings
// ---------------------------------------------------------------------------

// slowResolveClass takes the constant pool, the entry index and the
// call-site PC, as do most helpers below.
func slowResolveClass(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	t.BuildResolveFrameWithPC(FrameKindData.Flags(), a.Count(), true, pc)
	c := t.vm.Linker.ResolveClass(t, pool, index, ResolveRuntime)
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(c)
	}
	return act
}

// slowResolveClassFromStaticField returns the declaring class of a static
// field, resolving the field first if needed.
func slowResolveClassFromStaticField(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	f := pool.StaticFieldRef(index).Resolved(false)
	if f == nil {
		t.BuildResolveFrameWithPC(FrameKindData.Flags(), a.Count(), true, pc)
		f = t.vm.Linker.ResolveStaticField(t, pool, index, ResolveRuntime)
		if f == StashedField {
			f = t.takeClinitStash().(*Field)
		}
		if act := t.restore(pc); act.Kind != ActionResume {
			return act
		}
	}
	t.SetReturn(f.Class)
	return actionResume
}

func slowResolveString(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	t.BuildResolveFrameWithPC(FrameKindData.Flags(), a.Count(), true, pc)
	s := t.vm.Linker.ResolveString(t, pool, index, ResolveRuntime)
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(s)
	}
	return act
}

func (t *Thread) takeClinitStash() any {
	v := t.clinitStash
	t.clinitStash = nil
	if v == nil {
		panic("vm: linker reported a clinit resolution without stashing it")
	}
	return v
}

// ---------------------------------------------------------------------------
// Fields
// ---------------------------------------------------------------------------

func resolveInstanceField(t *Thread, a Args, pc PC, setter, direct bool) Action {
	pool, index := a.Pool(1), a.Int(2)
	kind := FrameKindData
	if direct {
		kind = FrameKindJITResolve
	}
	flags := ResolveRuntime
	if setter {
		flags |= ResolveFieldSetter
	}
	t.BuildResolveFrameWithPC(kind.Flags(), a.Count(), true, pc)
	rf := t.vm.Linker.ResolveInstanceField(t, pool, index, flags)
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(rf.Offset)
	}
	return act
}

func slowResolveField(t *Thread, a Args) Action {
	return resolveInstanceField(t, a, a.PC(3), false, false)
}

func slowResolveFieldSetter(t *Thread, a Args) Action {
	return resolveInstanceField(t, a, a.PC(3), true, false)
}

// The direct variants are called from out-of-line code without literals;
// they return to the helper call site itself.

func slowResolveFieldDirect(t *Thread, a Args) Action {
	return resolveInstanceField(t, a, t.jitReturnAddress, false, true)
}

func slowResolveFieldSetterDirect(t *Thread, a Args) Action {
	return resolveInstanceField(t, a, t.jitReturnAddress, true, true)
}

func resolveStaticField(t *Thread, a Args, pc PC, setter, direct bool) Action {
	pool, index := a.Pool(1), a.Int(2)
	kind := FrameKindData
	if direct {
		kind = FrameKindJITResolve
	}
	flags := ResolveRuntime
	if setter {
		flags |= ResolveFieldSetter
	}
	t.BuildResolveFrameWithPC(kind.Flags(), a.Count(), true, pc)
	f := t.vm.Linker.ResolveStaticField(t, pool, index, flags)
	fromClinit := false
	if f == StashedField {
		f = t.takeClinitStash().(*Field)
		// Direct resolutions are never patched into code.
		fromClinit = !direct
	}
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(StaticFieldResolution{Field: f, Slot: &f.Class.statics[f.index], FromClinit: fromClinit})
	}
	return act
}

func slowResolveStaticField(t *Thread, a Args) Action {
	return resolveStaticField(t, a, a.PC(3), false, false)
}

func slowResolveStaticFieldSetter(t *Thread, a Args) Action {
	return resolveStaticField(t, a, a.PC(3), true, false)
}

func slowResolveStaticFieldDirect(t *Thread, a Args) Action {
	return resolveStaticField(t, a, t.jitReturnAddress, false, true)
}

func slowResolveStaticFieldSetterDirect(t *Thread, a Args) Action {
	return resolveStaticField(t, a, t.jitReturnAddress, true, true)
}

// fastResolvedFieldIsVolatile reports whether a resolved field entry is
// volatile. The third argument selects static entries.
func fastResolvedFieldIsVolatile(t *Thread, a Args) bool {
	pool, index := a.Pool(1), a.Int(2)
	volatile := false
	if a.Bool(3) {
		if f := pool.StaticFieldRef(index).Resolved(false); f != nil {
			volatile = f.IsVolatile()
		}
	} else if rf := pool.FieldRef(index).Resolved(false); rf != nil {
		volatile = rf.Field.IsVolatile()
	}
	t.SetReturn(volatile)
	return true
}

// ---------------------------------------------------------------------------
// Methods
// ---------------------------------------------------------------------------

// slowResolveInterfaceMethod populates an interface call site. Arguments
// are the call site and the call-site PC; the result is true.
func slowResolveInterfaceMethod(t *Thread, a Args) Action {
	site, pc := a.InterfaceSite(1), a.PC(2)
	res, act := resolveLoop(t, a, FrameKindInterfaceMethod, pc,
		func() (*InterfaceResolution, bool) {
			res := site.Pool.InterfaceMethodRef(site.Index).Resolved()
			return res, res != nil
		},
		func() { t.vm.Linker.ResolveInterfaceMethod(t, site.Pool, site.Index, ResolveRuntime) })
	if act.Kind != ActionResume {
		return act
	}
	code := t.vm.Code
	code.WriteProtectDisable()
	site.resolved.CompareAndSwap(nil, res)
	code.WriteProtectEnable()
	t.SetReturn(true)
	return actionResume
}

// slowResolveSpecialMethod takes the call-site PC, the constant pool and
// the possibly split-table index.
func slowResolveSpecialMethod(t *Thread, a Args) Action {
	pc, pool, index := a.PC(1), a.Pool(2), a.Int(3)
	t.BuildResolveFrameWithPC(FrameKindSpecialMethod.Flags(), a.Count(), true, pc)
	m := t.vm.Linker.ResolveSpecialMethod(t, pool, index, ResolveRuntime)
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(m)
	}
	return act
}

// slowResolveStaticMethod has the same arguments as
// slowResolveSpecialMethod.
func slowResolveStaticMethod(t *Thread, a Args) Action {
	pc, pool, index := a.PC(1), a.Pool(2), a.Int(3)
	t.BuildResolveFrameWithPC(FrameKindStaticMethod.Flags(), a.Count(), true, pc)
	m := t.vm.Linker.ResolveStaticMethod(t, pool, index, ResolveRuntime)
	fromClinit := false
	if m == StashedMethod {
		m, fromClinit = t.takeClinitStash().(*Method), true
	}
	act := t.restore(pc)
	if act.Kind == ActionResume {
		t.SetReturn(StaticMethodResolution{Method: m, FromClinit: fromClinit})
	}
	return act
}

// slowResolveVirtualMethod takes the call-site literals and PC.
func slowResolveVirtualMethod(t *Thread, a Args) Action {
	lits, pc := a.Literals(1), a.PC(2)
	ref := lits.Pool.MethodRef(lits.Index)
	m, act := resolveLoop(t, a, FrameKindVirtualMethod, pc,
		func() (*Method, bool) {
			m := ref.Method()
			return m, m != nil
		},
		func() { t.vm.Linker.ResolveVirtualMethod(t, lits.Pool, lits.Index, ResolveRuntime) })
	if act.Kind != ActionResume {
		return act
	}
	res := VirtualMethodResolution{VTableIndex: ref.VTableIndex()}
	if res.VTableIndex == InvokePrivateOffset {
		res.Direct = m
	}
	t.SetReturn(res)
	return actionResume
}

// ---------------------------------------------------------------------------
// Method handles and dynamic constants
// ---------------------------------------------------------------------------

func slowResolveMethodType(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	ref := pool.MethodTypeRef(index)
	mt, act := resolveLoop(t, a, FrameKindData, pc,
		func() (*Object, bool) {
			mt := ref.Resolved()
			return mt, mt != nil
		},
		func() { t.vm.Linker.ResolveMethodType(t, pool, index, ResolveRuntime) })
	if act.Kind == ActionResume {
		t.SetReturn(mt)
	}
	return act
}

func slowResolveMethodHandle(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	ref := pool.MethodHandleRef(index)
	mh, act := resolveLoop(t, a, FrameKindData, pc,
		func() (*Object, bool) {
			mh := ref.Resolved()
			return mh, mh != nil
		},
		func() { t.vm.Linker.ResolveMethodHandle(t, pool, index, ResolveRuntime) })
	if act.Kind == ActionResume {
		t.SetReturn(mh)
	}
	return act
}

// slowResolveInvokeDynamic resolves call site index of the pool's class.
func slowResolveInvokeDynamic(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	slot := &pool.Class.callSites[index]
	cs, act := resolveLoop(t, a, FrameKindData, pc,
		func() (*Object, bool) {
			cs := slot.Load()
			return cs, cs != nil
		},
		func() { t.vm.Linker.ResolveInvokeDynamic(t, pool, index, ResolveRuntime) })
	if act.Kind == ActionResume {
		t.SetReturn(cs)
	}
	return act
}

// slowResolveConstantDynamic returns the constant, which may be null.
func slowResolveConstantDynamic(t *Thread, a Args) Action {
	pool, index, pc := a.Pool(1), a.Int(2), a.PC(3)
	ref := pool.ConstantDynamicRef(index)
	v, act := resolveLoop(t, a, FrameKindData, pc, ref.Resolved,
		func() { t.vm.Linker.ResolveConstantDynamic(t, pool, index, ResolveRuntime) })
	if act.Kind == ActionResume {
		t.SetReturn(v)
	}
	return act
}
