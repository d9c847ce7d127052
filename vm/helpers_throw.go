package vm

import "fmt"

// Throw helpers never return to their call site. Each leaves a resolve
// frame for the unwinder and an exception pending.

// slowThrowCurrentException rethrows the exception already pending on the
// thread from an out-of-line check.
func slowThrowCurrentException(t *Thread, a Args) Action {
	t.BuildResolveFrameForRuntimeCheck()
	if t.currentException == nil {
		t.SetCurrentException(KindInternalError, "no exception to rethrow")
	}
	return actionThrow
}

// slowThrowException implements athrow. A null operand throws
// NullPointerException.
func slowThrowException(t *Thread, a Args) Action {
	e := a.Throwable(1)
	t.BuildResolveFrame(FrameKindJITResolve, a.Count())
	if e == nil {
		t.SetCurrentException(KindNullPointerException, "")
		return actionThrow
	}
	t.SetPendingException(e)
	return actionThrow
}

// slowThrowUnreportedException throws without reporting the throw event,
// as for exceptions rethrown by synthetic handlers.
func slowThrowUnreportedException(t *Thread, a Args) Action {
	e := a.Throwable(1)
	t.BuildResolveFrame(FrameKindJITResolve, a.Count())
	t.fixStackForSyntheticHandler()
	if e == nil {
		t.SetCurrentException(KindNullPointerException, "")
		return actionThrow
	}
	t.SetPendingException(e)
	return actionThrow
}

// runtimeCheckThrow returns the slow path of a failed inline check
// raising kind.
func runtimeCheckThrow(kind ExceptionKind, key MessageKey) SlowPath {
	return func(t *Thread, a Args) Action {
		t.BuildResolveFrameForRuntimeCheck()
		if key == MsgNone {
			t.SetCurrentException(kind, "")
		} else {
			t.SetCurrentExceptionKey(kind, key)
		}
		return actionThrow
	}
}

// slowThrowArrayStoreExceptionWithIP raises ArrayStoreException at the
// instruction address passed by compiled code rather than the helper's
// return address.
func slowThrowArrayStoreExceptionWithIP(t *Thread, a Args) Action {
	t.BuildResolveFrameWithPC(FrameKindJITResolve.Flags(), a.Count(), true, a.PC(1))
	t.SetCurrentException(KindArrayStoreException, "")
	return actionThrow
}

// slowThrowIncompatibleReceiver raises IllegalAccessError for an
// invokespecial whose receiver is not assignable to the current class.
// Arguments are the receiver class and the current class.
func slowThrowIncompatibleReceiver(t *Thread, a Args) Action {
	receiver, current := a.Class(1), a.Class(2)
	t.BuildResolveFrameForRuntimeHelper(a.Count())
	t.SetCurrentException(KindIllegalAccessError,
		fmt.Sprintf("Receiver class %s is not assignable to %s", receiver.JavaName(), current.JavaName()))
	return actionThrow
}

// trapHandler returns the slow path entered after a hardware trap in
// compiled code. The faulting PC arrives in the JIT exception cookie.
func trapHandler(kind ExceptionKind, message string) SlowPath {
	return func(t *Thread, a Args) Action {
		t.BuildResolveFrameForTrapHandler()
		t.fixStackForSyntheticHandler()
		t.SetCurrentException(kind, message)
		return actionThrow
	}
}
