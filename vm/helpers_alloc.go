package vm

// ---------------------------------------------------------------------------
// Instances
// ---------------------------------------------------------------------------

// instantiable reports whether c may be allocated by the new helpers:
// identity classes through new, value classes through the value helpers.
func instantiable(c *Class, value bool) bool {
	if value {
		return c.IsValueType() && !c.IsAbstract() && !c.IsInterface()
	}
	return c.AllocatesViaNew()
}

func newObjectFast(t *Thread, a Args, flags AllocFlags, value bool) bool {
	c := a.Class(1)
	if c.Initialized() && instantiable(c, value) {
		if o := t.vm.Heap.AllocateObjectNoGC(t, c, flags); o != nil {
			t.SetReturn(o)
			return true
		}
	}
	t.stash(SlowPathRequest{Kind: RequestAllocation, Class: c})
	return false
}

func newObjectSlow(t *Thread, a Args, flags AllocFlags, value bool) Action {
	c := t.take(RequestAllocation).Class
	oldPC := t.jitReturnAddress
	if !instantiable(c, value) {
		t.BuildResolveFrameForRuntimeHelper(a.Count())
		t.SetCurrentException(KindInstantiationError, c.JavaName())
		return actionThrow
	}
	if !c.Initialized() {
		t.BuildResolveFrameWithPC(FrameKindRuntimeHelper.Flags(), a.Count(), true, oldPC)
		t.vm.Linker.InitializeClass(t, c)
		if act := t.restore(oldPC); act.Kind != ActionResume {
			return act
		}
	}
	t.BuildResolveFrameWithPC(FrameKindAllocation.Flags(), a.Count(), true, oldPC)
	o := t.vm.Heap.AllocateObject(t, c, flags)
	if o == nil {
		t.SetHeapOutOfMemoryError()
		return actionThrow
	}
	// The interpreter picks the object up from here if the caller is
	// deoptimized while the frame is on the stack.
	t.decompileStash = o
	act := t.RestoreResolveFrame(oldPC, false, false)
	if act.Kind == ActionResume {
		t.SetReturn(o)
	}
	return act
}

func fastNewObject(t *Thread, a Args) bool { return newObjectFast(t, a, 0, false) }

func slowNewObject(t *Thread, a Args) Action { return newObjectSlow(t, a, 0, false) }

func fastNewObjectNoZeroInit(t *Thread, a Args) bool {
	return newObjectFast(t, a, AllocNoZeroInit, false)
}

func slowNewObjectNoZeroInit(t *Thread, a Args) Action {
	return newObjectSlow(t, a, AllocNoZeroInit, false)
}

func fastNewValue(t *Thread, a Args) bool { return newObjectFast(t, a, 0, true) }

func slowNewValue(t *Thread, a Args) Action { return newObjectSlow(t, a, 0, true) }

func fastNewValueNoZeroInit(t *Thread, a Args) bool {
	return newObjectFast(t, a, AllocNoZeroInit, true)
}

func slowNewValueNoZeroInit(t *Thread, a Args) Action {
	return newObjectSlow(t, a, AllocNoZeroInit, true)
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// arrayFast allocates an array of arrayClass, which is nil when the class
// of a reference array has not been created yet.
func arrayFast(t *Thread, component, arrayClass *Class, size int32, flags AllocFlags) bool {
	if size >= 0 && arrayClass != nil {
		if o := t.vm.Heap.AllocateIndexableNoGC(t, arrayClass, size, flags); o != nil {
			t.SetReturn(o)
			return true
		}
	}
	t.stash(SlowPathRequest{Kind: RequestArrayAllocation, Class: component, Size: size})
	return false
}

func arraySlow(t *Thread, a Args, flags AllocFlags) Action {
	r := t.take(RequestArrayAllocation)
	oldPC := t.jitReturnAddress
	if r.Size < 0 {
		t.BuildResolveFrameForRuntimeHelper(a.Count())
		t.SetNegativeArraySizeException(r.Size)
		return actionThrow
	}
	arrayClass := r.Class.ArrayClass()
	if arrayClass == nil {
		t.BuildResolveFrameWithPC(FrameKindRuntimeHelper.Flags(), a.Count(), true, oldPC)
		arrayClass = t.vm.Linker.CreateArrayClass(t, r.Class)
		if act := t.restore(oldPC); act.Kind != ActionResume {
			return act
		}
	}
	t.BuildResolveFrameWithPC(FrameKindAllocation.Flags(), a.Count(), true, oldPC)
	o := t.vm.Heap.AllocateIndexable(t, arrayClass, r.Size, flags)
	if o == nil {
		t.SetHeapOutOfMemoryError()
		return actionThrow
	}
	t.decompileStash = o
	act := t.RestoreResolveFrame(oldPC, false, false)
	if act.Kind == ActionResume {
		t.SetReturn(o)
	}
	return act
}

func fastANewArray(t *Thread, a Args) bool {
	c := a.Class(1)
	return arrayFast(t, c, c.ArrayClass(), a.Int32(2), 0)
}

func fastANewArrayNoZeroInit(t *Thread, a Args) bool {
	c := a.Class(1)
	return arrayFast(t, c, c.ArrayClass(), a.Int32(2), AllocNoZeroInit)
}

func slowANewArray(t *Thread, a Args) Action { return arraySlow(t, a, 0) }

func slowANewArrayNoZeroInit(t *Thread, a Args) Action { return arraySlow(t, a, AllocNoZeroInit) }

func primitiveArrayFast(t *Thread, a Args, flags AllocFlags) bool {
	typ := a.PrimitiveType(1)
	if !typ.Valid() {
		panic("vm: newarray with invalid type code")
	}
	c := t.vm.primitiveClasses[typ]
	return arrayFast(t, c, t.vm.primitiveArrayClasses[typ], a.Int32(2), flags)
}

func fastNewArray(t *Thread, a Args) bool { return primitiveArrayFast(t, a, 0) }

func fastNewArrayNoZeroInit(t *Thread, a Args) bool {
	return primitiveArrayFast(t, a, AllocNoZeroInit)
}

func slowNewArray(t *Thread, a Args) Action { return arraySlow(t, a, 0) }

func slowNewArrayNoZeroInit(t *Thread, a Args) Action { return arraySlow(t, a, AllocNoZeroInit) }

// slowAMultiNewArray allocates a multi-dimensional array. Arguments are
// the array class, the number of dimensions given and their sizes,
// outermost first.
func slowAMultiNewArray(t *Thread, a Args) Action {
	arrayClass, n, dims := a.Class(1), a.Int32(2), a.Int32s(3)
	oldPC := t.BuildResolveFrame(FrameKindAllocation, a.Count())
	if int(n) > len(dims) || n < 1 {
		t.SetCurrentException(KindInternalError, "multianewarray dimension count out of range")
		return actionThrow
	}
	dims = dims[:n]
	for _, d := range dims {
		if d < 0 {
			t.SetNegativeArraySizeException(d)
			return actionThrow
		}
	}
	o := t.allocateMultiArray(arrayClass, dims)
	if o == nil {
		return actionThrow
	}
	t.decompileStash = o
	act := t.RestoreResolveFrame(oldPC, false, false)
	if act.Kind == ActionResume {
		t.SetReturn(o)
	}
	return act
}

// allocateMultiArray builds the nested arrays. Leaves are zeroed arrays of
// the innermost given dimension.
func (t *Thread) allocateMultiArray(arrayClass *Class, dims []int32) *Object {
	o := t.vm.Heap.AllocateIndexable(t, arrayClass, dims[0], 0)
	if o == nil {
		t.SetHeapOutOfMemoryError()
		return nil
	}
	if len(dims) == 1 {
		return o
	}
	for i := int32(0); i < dims[0]; i++ {
		sub := t.allocateMultiArray(arrayClass.componentType, dims[1:])
		if sub == nil {
			return nil
		}
		o.Element(i).SetRef(sub)
		t.vm.Heap.WriteBarrierPost(t, o, sub)
	}
	return o
}
