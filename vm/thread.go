package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// numRegisters is the size of the modeled register file. It covers the
// argument and return registers of every supported convention.
const numRegisters = 16

// PrivateFlags are thread-private state bits.
type PrivateFlags uint32

const (
	// PrivateStackOverflow is set while a StackOverflowError is being
	// raised. Overflowing again in that window is fatal.
	PrivateStackOverflow PrivateFlags = 1 << iota
)

// AsyncFlags are events posted to a thread from other threads.
type AsyncFlags uint32

const (
	// AsyncPopFrames asks the thread to pop frames (debugger pop-frames).
	AsyncPopFrames AsyncFlags = 1 << iota
	// AsyncThrow asks the thread to throw the posted exception.
	AsyncThrow
	// AsyncHalt asks the thread to stop at the next check.
	AsyncHalt
)

// AsyncAction is the outcome of an async-message check.
type AsyncAction uint8

const (
	AsyncNone AsyncAction = iota
	AsyncActionThrow
	AsyncActionPopFrames
)

// RequestKind tags a SlowPathRequest.
type RequestKind uint8

const (
	requestNone RequestKind = iota
	RequestAllocation
	RequestArrayAllocation
	RequestCheckCast
	RequestArrayStore
	RequestInterfaceLookup
	RequestMonitorEnter
	RequestMonitorExit
)

var requestKindNames = [...]string{
	requestNone:            "none",
	RequestAllocation:      "allocation",
	RequestArrayAllocation: "array allocation",
	RequestCheckCast:       "checkcast",
	RequestArrayStore:      "array store",
	RequestInterfaceLookup: "interface lookup",
	RequestMonitorEnter:    "monitor enter",
	RequestMonitorExit:     "monitor exit",
}

func (k RequestKind) String() string { return requestKindNames[k] }

// SlowPathRequest carries the operands a failed fast path hands to its
// slow path. It is valid only between the fast-path failure and the slow
// path consuming it.
type SlowPathRequest struct {
	Kind      RequestKind
	Class     *Class
	Object    *Object
	Value     *Object
	Size      int32
	Index     int32
	Status    MonitorStatus
	Interface *Class
	Offset    ITableOffset
	Method    *Method
}

// Thread is one mutator thread. A Thread is owned by exactly one
// goroutine; other goroutines only post async events to it.
type Thread struct {
	ID     uuid.UUID
	Name   string
	serial uint32
	vm     *VM

	// Java stack. The stack grows towards index 0; sp is the index of the
	// top slot.
	stack []any
	sp    int
	regs  [numRegisters]any
	conv  CallingConvention

	jitReturnAddress PC
	jitException     any
	currentException *Throwable
	asyncFlags       atomic.Uint32
	asyncException   atomic.Pointer[Throwable]
	privateFlags     PrivateFlags

	request        SlowPathRequest
	clinitStash    any
	decompileStash *Object
	decompilations []*DecompilationRecord

	instrumentationDisabled int
	tlhRemaining            int64

	// Virtual is non-nil for virtual threads.
	Virtual *VirtualThread
}

func (t *Thread) String() string {
	return fmt.Sprintf("Thread[%s,%s]", t.Name, t.ID)
}

// VM returns the owning VM.
func (t *Thread) VM() *VM { return t.vm }

// ---------------------------------------------------------------------------
// Java stack
// ---------------------------------------------------------------------------

// SP returns the current stack pointer.
func (t *Thread) SP() int { return t.sp }

// StackDepth returns the number of slots in use.
func (t *Thread) StackDepth() int { return len(t.stack) - t.sp }

// StackSize returns the current capacity of the Java stack.
func (t *Thread) StackSize() int { return len(t.stack) }

func (t *Thread) push(v any) {
	if t.sp == 0 {
		panic("vm: java stack exhausted below the overflow reserve")
	}
	t.sp--
	t.stack[t.sp] = v
}

func (t *Thread) pop() any {
	v := t.stack[t.sp]
	t.stack[t.sp] = nil
	t.sp++
	return v
}

// Slot returns the stack slot i positions below the top.
func (t *Thread) Slot(i int) any { return t.stack[t.sp+i] }

// unwindTo pops slots until the stack pointer equals sp.
func (t *Thread) unwindTo(sp int) {
	for t.sp < sp {
		t.pop()
	}
}

// growStack reallocates the stack to size slots, keeping the contents at
// the high end. Depth-relative positions stay valid.
func (t *Thread) growStack(size int) {
	if size <= len(t.stack) {
		return
	}
	grown := make([]any, size)
	used := len(t.stack) - t.sp
	copy(grown[size-used:], t.stack[t.sp:])
	t.sp = size - used
	t.stack = grown
}

// EnterCompiledFrame pushes the frame of a compiled method about to call
// a helper. The frame has md.FrameSize slots and its deepest slot holds
// the return address into the caller (0 for the outermost frame).
func (t *Thread) EnterCompiledFrame(md *MethodMetadata, callerPC PC) {
	t.push(callerPC)
	for i := 1; i < md.FrameSize; i++ {
		t.push(nil)
	}
}

// LeaveCompiledFrame pops the frame pushed by EnterCompiledFrame.
func (t *Thread) LeaveCompiledFrame(md *MethodMetadata) {
	for i := 0; i < md.FrameSize; i++ {
		t.pop()
	}
}

// ---------------------------------------------------------------------------
// Registers and return values
// ---------------------------------------------------------------------------

// Convention returns the helper calling convention of the thread.
func (t *Thread) Convention() CallingConvention { return t.conv }

// SetReturn stores a helper result in the convention's return register.
func (t *Thread) SetReturn(v any) { t.regs[t.conv.ReturnRegister()] = v }

// ReturnValue reads the return register.
func (t *Thread) ReturnValue() any { return t.regs[t.conv.ReturnRegister()] }

// JITReturnAddress returns the call-site PC of the current helper call.
func (t *Thread) JITReturnAddress() PC { return t.jitReturnAddress }

// SetJITException stores the JIT exception cookie. Trap handlers find the
// faulting PC there.
func (t *Thread) SetJITException(v any) { t.jitException = v }

// ---------------------------------------------------------------------------
// Slow-path request
// ---------------------------------------------------------------------------

func (t *Thread) stash(r SlowPathRequest) {
	if t.request.Kind != requestNone {
		panic(fmt.Sprintf("vm: %s request still pending when stashing %s", t.request.Kind, r.Kind))
	}
	t.request = r
}

// take consumes the pending request, which must be of kind k.
func (t *Thread) take(k RequestKind) SlowPathRequest {
	r := t.request
	if r.Kind != k {
		panic(fmt.Sprintf("vm: slow path expected %s request, found %s", k, r.Kind))
	}
	t.request = SlowPathRequest{}
	return r
}

// PendingRequest returns the kind of the outstanding slow-path request.
func (t *Thread) PendingRequest() RequestKind { return t.request.Kind }

// DecompileStash returns the object a slow path saved for a pending
// deoptimization of the calling frame.
func (t *Thread) DecompileStash() *Object { return t.decompileStash }

// SetClinitStash records a resolution made while the thread is running
// the initializer of the resolved member's class. The resolver returns
// the matching marker instead of caching the result.
func (t *Thread) SetClinitStash(v any) { t.clinitStash = v }

// ---------------------------------------------------------------------------
// Async events
// ---------------------------------------------------------------------------

// PostAsync posts an async event to the thread. Safe from any goroutine.
func (t *Thread) PostAsync(f AsyncFlags) {
	for {
		old := t.asyncFlags.Load()
		if t.asyncFlags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// PostAsyncException asks the thread to throw e at its next async check.
func (t *Thread) PostAsyncException(e *Throwable) {
	t.asyncException.Store(e)
	t.PostAsync(AsyncThrow)
}

// ImmediateAsyncPending reports whether an async event is waiting.
func (t *Thread) ImmediateAsyncPending() bool { return t.asyncFlags.Load() != 0 }

// CheckAsyncMessages consumes pending async events. Posted exceptions
// become pending only when throwExceptions is set; otherwise they stay
// posted for a later check.
func (t *Thread) CheckAsyncMessages(throwExceptions bool) AsyncAction {
	flags := AsyncFlags(t.asyncFlags.Load())
	if flags&AsyncPopFrames != 0 {
		t.clearAsync(AsyncPopFrames)
		return AsyncActionPopFrames
	}
	if flags&AsyncHalt != 0 {
		t.clearAsync(AsyncHalt)
		return AsyncActionPopFrames
	}
	if flags&AsyncThrow != 0 && throwExceptions {
		t.clearAsync(AsyncThrow)
		if e := t.asyncException.Swap(nil); e != nil {
			t.SetPendingException(e)
			return AsyncActionThrow
		}
	}
	return AsyncNone
}

func (t *Thread) clearAsync(f AsyncFlags) {
	for {
		old := t.asyncFlags.Load()
		if t.asyncFlags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Runtime instrumentation
// ---------------------------------------------------------------------------

func (t *Thread) disableRuntimeInstrumentation() { t.instrumentationDisabled++ }

func (t *Thread) enableRuntimeInstrumentation() {
	if t.instrumentationDisabled == 0 {
		panic("vm: runtime instrumentation enabled more often than disabled")
	}
	t.instrumentationDisabled--
}

// RuntimeInstrumentationActive reports whether hardware runtime
// instrumentation would sample this thread right now.
func (t *Thread) RuntimeInstrumentationActive() bool {
	return t.vm.opts.RuntimeInstrumentation && t.instrumentationDisabled == 0
}
