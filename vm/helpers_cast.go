package vm

import "fmt"

// ---------------------------------------------------------------------------
// checkcast and instanceof
// ---------------------------------------------------------------------------

// castFast is the checkcast predicate: null passes unless the target is a
// primitive value type.
func castFast(t *Thread, castClass *Class, o *Object) bool {
	if o == nil {
		if !castClass.IsPrimitiveValueType() {
			return true
		}
	} else if isSubtype(o.class, castClass) {
		return true
	}
	t.stash(SlowPathRequest{Kind: RequestCheckCast, Class: castClass, Object: o})
	return false
}

func fastCheckCast(t *Thread, a Args) bool { return castFast(t, a.Class(1), a.Object(2)) }

func slowCheckCast(t *Thread, a Args) Action {
	r := t.take(RequestCheckCast)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	if r.Object == nil {
		t.SetCurrentException(KindNullPointerException, "")
	} else {
		t.SetClassCastException(r.Object.class, r.Class)
	}
	return actionThrow
}

func fastCheckCastForArrayStore(t *Thread, a Args) bool {
	return castFast(t, a.Class(1), a.Object(2))
}

// slowCheckCastForArrayStore reports a failed component check of an
// array store as ArrayStoreException.
func slowCheckCastForArrayStore(t *Thread, a Args) Action {
	r := t.take(RequestCheckCast)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	if r.Object == nil {
		t.SetCurrentException(KindNullPointerException, "")
	} else {
		t.SetArrayStoreException(r.Object.class, t.vm.arrayClassOf(r.Class))
	}
	return actionThrow
}

func fastInstanceOf(t *Thread, a Args) bool {
	o := a.Object(2)
	t.SetReturn(o != nil && isSubtype(o.class, a.Class(1)))
	return true
}

// fastCheckAssignable takes the class being tested first and the target
// class second.
func fastCheckAssignable(t *Thread, a Args) bool {
	t.SetReturn(isSubtype(a.Class(1), a.Class(2)))
	return true
}

// ---------------------------------------------------------------------------
// Array stores
// ---------------------------------------------------------------------------

// storeCompatible is the array-store type check of value into array.
// Storing into an Object[] needs no check.
func storeCompatible(array, value *Object) bool {
	component := array.class.componentType
	return value.class == component || component.depth == 0 && !component.IsInterface() ||
		isSubtype(value.class, component)
}

func typeCheckArrayStore(t *Thread, array, value *Object, nullCheck bool) bool {
	switch {
	case array == nil:
		if !nullCheck {
			return true
		}
	case value == nil:
		if !array.class.componentType.IsPrimitiveValueType() {
			return true
		}
	case storeCompatible(array, value):
		return true
	}
	t.stash(SlowPathRequest{Kind: RequestArrayStore, Object: array, Value: value})
	return false
}

// fastTypeCheckArrayStore checks a store into an array compiled code has
// already null-checked; a null array passes.
func fastTypeCheckArrayStore(t *Thread, a Args) bool {
	return typeCheckArrayStore(t, a.Object(1), a.Object(2), false)
}

func fastTypeCheckArrayStoreWithNullCheck(t *Thread, a Args) bool {
	return typeCheckArrayStore(t, a.Object(1), a.Object(2), true)
}

// slowTypeCheckArrayStore raises the failure found by the fast path: NPE
// for a null array or a null stored into a null-restricted array, ASE for
// a type mismatch.
func slowTypeCheckArrayStore(t *Thread, a Args) Action {
	r := t.take(RequestArrayStore)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	t.raiseArrayStore(r.Object, r.Value)
	return actionThrow
}

func (t *Thread) raiseArrayStore(array, value *Object) {
	if array == nil || value == nil {
		t.SetCurrentException(KindNullPointerException, "")
		return
	}
	t.SetArrayStoreException(value.class, array.class)
}

// fastArrayStoreChecked performs a complete reference array store: null
// check, bounds check, type check, store and write barrier. On failure
// the array is left unchanged.
func fastArrayStoreChecked(t *Thread, a Args) bool {
	array, index, value := a.Object(1), a.Int32(2), a.Object(3)
	switch {
	case array == nil:
	case index < 0 || index >= array.length:
	case value == nil && array.class.componentType.IsPrimitiveValueType():
	case value != nil && !storeCompatible(array, value):
	default:
		array.Element(index).SetRef(value)
		t.vm.Heap.WriteBarrierPost(t, array, value)
		return true
	}
	t.stash(SlowPathRequest{Kind: RequestArrayStore, Object: array, Index: index, Value: value})
	return false
}

func slowArrayStoreChecked(t *Thread, a Args) Action {
	r := t.take(RequestArrayStore)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	if r.Object != nil && (r.Index < 0 || r.Index >= r.Object.length) {
		t.SetArrayIndexOutOfBounds(r.Index, r.Object.length)
		return actionThrow
	}
	t.raiseArrayStore(r.Object, r.Value)
	return actionThrow
}

// ---------------------------------------------------------------------------
// Interface dispatch
// ---------------------------------------------------------------------------

// fastLookupInterfaceMethod returns the vTable slot implementing the
// interface method recorded at a resolved call site. Arguments are the
// receiver class, the call site and the call-site PC.
func fastLookupInterfaceMethod(t *Thread, a Args) bool {
	receiver, site := a.Class(1), a.InterfaceSite(2)
	res := site.Resolution()
	if res == nil {
		panic("vm: interface dispatch through an unresolved call site")
	}
	if slot := ConvertITableOffsetToVTableOffset(receiver, res.Interface, res.Offset); slot != 0 {
		if m := receiver.vTable.Lookup(slot); m != nil && m.IsPublic() {
			t.SetReturn(slot)
			return true
		}
	}
	t.stash(SlowPathRequest{Kind: RequestInterfaceLookup, Class: receiver, Interface: res.Interface, Offset: res.Offset})
	return false
}

func slowLookupInterfaceMethod(t *Thread, a Args) Action {
	r := t.take(RequestInterfaceLookup)
	t.BuildResolveFrameWithPC(FrameKindInterfaceLookup.Flags(), a.Count(), true, a.PC(3))
	slot := ConvertITableOffsetToVTableOffset(r.Class, r.Interface, r.Offset)
	if slot == 0 {
		t.SetCurrentException(KindIncompatibleClassChangeError,
			fmt.Sprintf("Class %s does not implement the requested interface %s", r.Class.JavaName(), r.Interface.JavaName()))
		return actionThrow
	}
	t.setNonPublicInvokeInterface(r.Class.vTable.Lookup(slot))
	return actionThrow
}

func (t *Thread) setNonPublicInvokeInterface(m *Method) {
	t.SetCurrentException(KindIllegalAccessError,
		fmt.Sprintf("Receiver class %s must implement %s.%s%s as a public method",
			m.Class.JavaName(), m.Class.JavaName(), m.Name, m.Descriptor))
}

// fastLookupDynamicPublicInterfaceMethod dispatches an interface method
// named by a method handle. The receiver must implement it publicly.
func fastLookupDynamicPublicInterfaceMethod(t *Thread, a Args) bool {
	receiver, im := a.Class(1), a.Method(2)
	slot := ConvertITableOffsetToVTableOffset(receiver, im.Class, ITableOffset(im.iTableIndex))
	if slot == 0 {
		panic(fmt.Sprintf("vm: %s does not implement %s", receiver.JavaName(), im))
	}
	m := receiver.vTable.Lookup(slot)
	if m.IsPublic() {
		t.SetReturn(slot)
		return true
	}
	t.stash(SlowPathRequest{Kind: RequestInterfaceLookup, Class: receiver, Method: m})
	return false
}

func slowLookupDynamicPublicInterfaceMethod(t *Thread, a Args) Action {
	r := t.take(RequestInterfaceLookup)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	t.setNonPublicInvokeInterface(r.Method)
	return actionThrow
}

// ---------------------------------------------------------------------------
// Reference comparison
// ---------------------------------------------------------------------------

// substitutable is acmp for value-capable references: identity, or two
// instances of the same value class with substitutable fields.
func substitutable(lhs, rhs *Object) bool {
	if lhs == rhs {
		return true
	}
	if lhs == nil || rhs == nil || lhs.class != rhs.class || !lhs.class.IsValueType() {
		return false
	}
	for i := range lhs.slots {
		l, r := &lhs.slots[i], &rhs.slots[i]
		if l.Bits() != r.Bits() || !substitutable(l.Ref(), r.Ref()) {
			return false
		}
	}
	return true
}

func fastAcmpeq(t *Thread, a Args) bool {
	t.SetReturn(substitutable(a.Object(1), a.Object(2)))
	return true
}

func fastAcmpne(t *Thread, a Args) bool {
	t.SetReturn(!substitutable(a.Object(1), a.Object(2)))
	return true
}
