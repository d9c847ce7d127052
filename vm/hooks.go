package vm

import (
	"sync"
	"sync/atomic"
)

// HookEvent identifies an event the runtime can report to listeners.
type HookEvent uint8

const (
	HookMethodEnter HookEvent = iota
	HookMethodReturn
	HookMonitorContendedExit
	HookClassInitialize
	numHookEvents
)

var hookEventNames = [...]string{
	HookMethodEnter:          "method-enter",
	HookMethodReturn:         "method-return",
	HookMonitorContendedExit: "monitor-contended-exit",
	HookClassInitialize:      "class-initialize",
}

func (e HookEvent) String() string { return hookEventNames[e] }

// HookData is passed to listeners.
type HookData struct {
	Thread      *Thread
	Method      *Method
	Receiver    *Object
	Object      *Object
	Class       *Class
	ReturnValue any
}

// HookListener receives events. Listeners run on the reporting thread
// with a resolve frame on its stack, so they may walk the stack, throw by
// setting a pending exception, or request deoptimization.
type HookListener func(*HookData)

// Hooks is the event hook interface.
type Hooks struct {
	mu        sync.RWMutex
	listeners [numHookEvents][]HookListener

	hooked   atomic.Uint32
	reserved atomic.Uint32
}

// Register adds a listener for ev.
func (h *Hooks) Register(ev HookEvent, fn HookListener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners[ev] = append(h.listeners[ev], fn)
	h.hooked.Or(1 << ev)
}

// Reserve declares interest in ev before any listener is registered. The
// monitor exit helpers take the slow path for reserved contended-exit
// events.
func (h *Hooks) Reserve(ev HookEvent) { h.reserved.Or(1 << ev) }

// IsHooked reports whether ev has listeners.
func (h *Hooks) IsHooked(ev HookEvent) bool { return h.hooked.Load()&(1<<ev) != 0 }

// IsReserved reports whether ev is reserved or hooked.
func (h *Hooks) IsReserved(ev HookEvent) bool {
	return (h.reserved.Load()|h.hooked.Load())&(1<<ev) != 0
}

// Trigger calls the listeners of ev in registration order.
func (h *Hooks) Trigger(ev HookEvent, data *HookData) {
	h.mu.RLock()
	listeners := h.listeners[ev]
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(data)
	}
}
