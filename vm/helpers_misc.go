package vm

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------

// fastWriteBarrierStore runs the post-store barrier after compiled code
// stored value into dst. The generational and concurrent-mark variants
// share it; the heap decides what to record.
func fastWriteBarrierStore(t *Thread, a Args) bool {
	t.vm.Heap.WriteBarrierPost(t, a.Object(1), a.Object(2))
	return true
}

// fastWriteBarrierBatchStore covers a bulk store into the first argument.
// The range arguments of the ranged variant are not needed to remember the
// object.
func fastWriteBarrierBatchStore(t *Thread, a Args) bool {
	t.vm.Heap.WriteBarrierBatch(t, a.Object(1))
	return true
}

func fastWriteBarrierClassStore(t *Thread, a Args) bool {
	t.vm.Heap.WriteBarrierPostClass(t, a.Class(1), a.Object(2))
	return true
}

func fastWriteBarrierClassBatchStore(t *Thread, a Args) bool {
	t.vm.Heap.WriteBarrierClassBatch(t, a.Class(1))
	return true
}

// fastWriteBarrierStoreSATB performs the store itself: the overwritten
// reference is logged before the slot changes. Arguments are the
// destination object, the slot and the value.
func fastWriteBarrierStoreSATB(t *Thread, a Args) bool {
	dst, slot, value := a.Object(1), a.Slot(2), a.Object(3)
	h := t.vm.Heap
	h.WriteBarrierPre(t, dst, slot.Ref())
	slot.SetRef(value)
	h.WriteBarrierPost(t, dst, value)
	return true
}

func fastWriteBarrierClassStoreSATB(t *Thread, a Args) bool {
	dst, slot, value := a.Class(1), a.Slot(2), a.Object(3)
	h := t.vm.Heap
	h.WriteBarrierPre(t, nil, slot.Ref())
	slot.SetRef(value)
	h.WriteBarrierPostClass(t, dst, value)
	return true
}

// ---------------------------------------------------------------------------
// Objects and volatile access
// ---------------------------------------------------------------------------

func fastObjectHashCode(t *Thread, a Args) bool {
	t.SetReturn(t.vm.Heap.ObjectHashCode(a.Object(1)))
	return true
}

func fastVolatileReadLong(t *Thread, a Args) bool {
	t.SetReturn(a.Slot(1).Int64())
	return true
}

func fastVolatileWriteLong(t *Thread, a Args) bool {
	a.Slot(1).SetInt64(a.Int64(2))
	return true
}

func fastVolatileReadDouble(t *Thread, a Args) bool {
	t.SetReturn(a.Slot(1).Float64())
	return true
}

func fastVolatileWriteDouble(t *Thread, a Args) bool {
	a.Slot(1).SetFloat64(a.Float64(2))
	return true
}

// ---------------------------------------------------------------------------
// Event reporting
// ---------------------------------------------------------------------------

func reportMethodEvent(t *Thread, a Args, ev HookEvent, data *HookData) Action {
	if !t.vm.Hooks.IsHooked(ev) && !data.Method.Traced() {
		return actionResume
	}
	oldPC := t.BuildResolveFrame(FrameKindJITResolve, a.Count())
	t.vm.Hooks.Trigger(ev, data)
	return t.RestoreResolveFrame(oldPC, true, false)
}

// slowReportMethodEnter takes the method and its receiver.
func slowReportMethodEnter(t *Thread, a Args) Action {
	return reportMethodEvent(t, a, HookMethodEnter,
		&HookData{Thread: t, Method: a.Method(1), Receiver: a.Object(2)})
}

func slowReportStaticMethodEnter(t *Thread, a Args) Action {
	return reportMethodEvent(t, a, HookMethodEnter, &HookData{Thread: t, Method: a.Method(1)})
}

// slowReportMethodExit takes the method and the address of its return
// value, or nil for void methods.
func slowReportMethodExit(t *Thread, a Args) Action {
	return reportMethodEvent(t, a, HookMethodReturn,
		&HookData{Thread: t, Method: a.Method(1), ReturnValue: a.At(2)})
}

// ---------------------------------------------------------------------------
// Stack overflow, async checks and OSR
// ---------------------------------------------------------------------------

// slowStackOverflow is called from method prologues when the stack pointer
// is inside the overflow reserve, and from async checkpoints in loops. It
// grows the stack when it can and then services pending async events.
func slowStackOverflow(t *Thread, a Args) Action {
	opts := &t.vm.opts
	if t.sp < opts.OverflowReserve {
		oldPC := t.BuildResolveFrame(FrameKindStackOverflow, 0)
		used := t.StackDepth() + opts.OverflowReserve
		if used > opts.MaxStackSize {
			return t.raiseStackOverflow()
		}
		size := max(len(t.stack)+opts.StackIncrement, used+opts.StackIncrement)
		size = min(size, opts.MaxStackSize)
		if size <= len(t.stack) {
			return t.raiseStackOverflow()
		}
		log.Debugf("%s: growing stack from %d to %d slots", t, len(t.stack), size)
		t.growStack(size)
		if act := t.RestoreResolveFrame(oldPC, false, false); act.Kind != ActionResume {
			return act
		}
	}
	if t.ImmediateAsyncPending() {
		oldPC := t.BuildResolveFrame(FrameKindStackOverflow, 0)
		switch t.CheckAsyncMessages(true) {
		case AsyncActionThrow:
			return actionThrow
		case AsyncActionPopFrames:
			return actionPopFrames
		}
		return t.RestoreResolveFrame(oldPC, false, false)
	}
	return actionResume
}

// raiseStackOverflow throws StackOverflowError. Overflowing again while the
// error is being raised ends the process.
func (t *Thread) raiseStackOverflow() Action {
	if t.privateFlags&PrivateStackOverflow != 0 {
		t.vm.Fatal(t, "stack overflow while raising StackOverflowError")
		return actionThrow
	}
	t.privateFlags |= PrivateStackOverflow
	t.SetCurrentException(KindStackOverflowError, "")
	return actionThrow
}

// slowCheckAsyncMessages services an async checkpoint. Posted exceptions
// are left for the next checkpoint that may throw.
func slowCheckAsyncMessages(t *Thread, a Args) Action {
	if !t.ImmediateAsyncPending() {
		return actionResume
	}
	oldPC := t.BuildResolveFrame(FrameKindJITResolve, 0)
	if t.CheckAsyncMessages(false) == AsyncActionPopFrames {
		return actionPopFrames
	}
	return t.RestoreResolveFrame(oldPC, false, false)
}

// slowInduceOSRAtCurrentPC transfers the calling frame to the interpreter.
func slowInduceOSRAtCurrentPC(t *Thread, a Args) Action {
	oldPC := t.BuildResolveFrame(FrameKindInduceOSR, 0)
	t.vm.OSR(t)
	pc := t.mustTopResolveFrame().ReturnAddress()
	if pc == oldPC {
		t.SetNativeOutOfMemoryError(MsgFailedToInduceOSR)
		return actionThrow
	}
	return RunAt(pc)
}
