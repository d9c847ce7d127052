package vm

// ---------------------------------------------------------------------------
// Enter
// ---------------------------------------------------------------------------

func monitorEnterFast(t *Thread, o *Object) bool {
	status := t.vm.Monitors.EnterNonBlocking(t, o)
	if status > MonitorBlocking {
		return true
	}
	t.stash(SlowPathRequest{Kind: RequestMonitorEnter, Object: o, Status: status})
	return false
}

func monitorEnterSlow(t *Thread, a Args, forMethod bool) Action {
	r := t.take(RequestMonitorEnter)
	kind := FrameKindMonitorEnter
	if forMethod {
		kind = FrameKindMethodMonitorEnter
	}
	oldPC := t.BuildResolveFrame(kind, a.Count())
	status := r.Status
	if status == MonitorBlocking && t.isYieldableVirtualThread() {
		status = t.vm.Monitors.PreparePinnedVirtualThreadForUnmount(t, r.Object)
		if status > MonitorBlocking {
			return t.RestoreResolveFrame(oldPC, forMethod, false)
		}
	}
	if status == MonitorYieldVirtual {
		return actionYield
	}
	if status < MonitorBlocking {
		if forMethod {
			// A synchronized method whose enter failed has not started; the
			// unwinder must not exit the monitor for it. Inlined callers keep
			// their own frame.
			if md := t.vm.Metadata.Lookup(oldPC); md == nil || !md.IsInlined(oldPC) {
				t.mustTopResolveFrame().SetFlag(FrameFailedMethodMonitorEnter)
			}
		}
		return t.raiseMonitorEnterFailure(status, r.Object)
	}
	if status = t.vm.Monitors.EnterBlocking(t, r.Object); status != MonitorAcquired {
		return t.raiseMonitorEnterFailure(status, r.Object)
	}
	return t.RestoreResolveFrame(oldPC, forMethod, false)
}

func (t *Thread) raiseMonitorEnterFailure(status MonitorStatus, o *Object) Action {
	switch status {
	case MonitorValueTypeIMSE:
		if o.class.IsValueType() {
			t.SetCurrentExceptionKey(KindIdentityException, MsgValueTypeMonitor, o.class.JavaName())
		} else {
			t.SetCurrentExceptionKey(KindVirtualMachineError, MsgValueBasedMonitor, o.class.JavaName())
		}
	case MonitorSingleThreadMode:
		t.SetCurrentExceptionKey(KindCRIUException, MsgCRIUSingleThreadBlocking)
	case MonitorYieldVirtual:
		return actionYield
	default:
		t.SetNativeOutOfMemoryError(MsgFailedToAllocateMonitor)
	}
	return actionThrow
}

func fastMonitorEntry(t *Thread, a Args) bool { return monitorEnterFast(t, a.Object(1)) }

func slowMonitorEntry(t *Thread, a Args) Action { return monitorEnterSlow(t, a, false) }

func fastMethodMonitorEntry(t *Thread, a Args) bool { return monitorEnterFast(t, a.Object(1)) }

func slowMethodMonitorEntry(t *Thread, a Args) Action { return monitorEnterSlow(t, a, true) }

// ---------------------------------------------------------------------------
// Exit
// ---------------------------------------------------------------------------

// monitorExitFast releases o. While the contended-exit hook is reserved
// every exit goes through the slow path so listeners see a walkable stack.
func monitorExitFast(t *Thread, o *Object) bool {
	status := MonitorWouldBlock
	if !t.vm.Hooks.IsReserved(HookMonitorContendedExit) {
		if status = t.vm.Monitors.Exit(t, o); status == MonitorExitOK {
			return true
		}
	}
	t.stash(SlowPathRequest{Kind: RequestMonitorExit, Object: o, Status: status})
	return false
}

func monitorExitSlow(t *Thread, a Args) Action {
	r := t.take(RequestMonitorExit)
	oldPC := t.BuildResolveFrameForRuntimeHelper(a.Count())
	rec := t.fixStackForSyntheticHandler()
	status := r.Status
	if status == MonitorWouldBlock {
		contended := t.vm.Monitors.IsContended(r.Object)
		status = t.vm.Monitors.Exit(t, r.Object)
		if status == MonitorExitOK && contended && t.vm.Hooks.IsHooked(HookMonitorContendedExit) {
			t.vm.Hooks.Trigger(HookMonitorContendedExit, &HookData{Thread: t, Object: r.Object})
		}
	}
	if status != MonitorExitOK {
		t.SetIllegalMonitorState()
		return actionThrow
	}
	t.unfixSyntheticHandler(rec)
	return t.restore(oldPC)
}

func fastMonitorExit(t *Thread, a Args) bool { return monitorExitFast(t, a.Object(1)) }

func slowMonitorExit(t *Thread, a Args) Action { return monitorExitSlow(t, a) }

func fastMethodMonitorExit(t *Thread, a Args) bool { return monitorExitFast(t, a.Object(1)) }

func slowMethodMonitorExit(t *Thread, a Args) Action { return monitorExitSlow(t, a) }

// ---------------------------------------------------------------------------
// Method queries
// ---------------------------------------------------------------------------

func fastMethodIsNative(t *Thread, a Args) bool {
	t.SetReturn(a.Method(1).IsNative())
	return true
}

func fastMethodIsSync(t *Thread, a Args) bool {
	t.SetReturn(a.Method(1).IsSynchronized())
	return true
}
