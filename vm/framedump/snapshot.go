// Package framedump captures the Java stacks of runtime threads as
// self-describing snapshots. Snapshots are CBOR encoded so that external
// stack walkers and crash tooling can read them without linking the
// runtime.
package framedump

import (
	"fmt"
	"io"

	"github.com/chazu/jitrt/vm"
	"github.com/google/uuid"
)

// Version is the snapshot format version.
const Version = 1

// FrameKind identifies the kind of a dumped frame.
type FrameKind uint8

const (
	FrameCompiled FrameKind = 1
	FrameResolve  FrameKind = 2
)

func (k FrameKind) String() string {
	switch k {
	case FrameCompiled:
		return "compiled"
	case FrameResolve:
		return "resolve"
	}
	return fmt.Sprintf("frame-kind(%d)", uint8(k))
}

// Frame is one stack frame. Resolve frames carry the frame kind of the
// helper that built them; compiled frames carry the method and line.
type Frame struct {
	Kind        FrameKind `cbor:"1,keyasint"`
	SP          int       `cbor:"2,keyasint"`
	PC          uint64    `cbor:"3,keyasint"`
	ResolveKind string    `cbor:"4,keyasint,omitempty"`
	Class       string    `cbor:"5,keyasint,omitempty"`
	Method      string    `cbor:"6,keyasint,omitempty"`
	Descriptor  string    `cbor:"7,keyasint,omitempty"`
	Line        int       `cbor:"8,keyasint,omitempty"`
	Decompiled  bool      `cbor:"9,keyasint,omitempty"`
}

// TraceElement is one line of a captured exception stack trace.
type TraceElement struct {
	Class  string `cbor:"1,keyasint"`
	Method string `cbor:"2,keyasint"`
	File   string `cbor:"3,keyasint,omitempty"`
	Line   int    `cbor:"4,keyasint,omitempty"`
	Native bool   `cbor:"5,keyasint,omitempty"`
}

// Exception is the pending exception of a dumped thread.
type Exception struct {
	Class   string         `cbor:"1,keyasint"`
	Message string         `cbor:"2,keyasint,omitempty"`
	Trace   []TraceElement `cbor:"3,keyasint,omitempty"`
	Cause   *Exception     `cbor:"4,keyasint,omitempty"`
}

// Snapshot is the stack of one thread at one point in time.
type Snapshot struct {
	Version    uint8      `cbor:"1,keyasint"`
	Thread     uuid.UUID  `cbor:"2,keyasint"`
	ThreadName string     `cbor:"3,keyasint"`
	Virtual    bool       `cbor:"4,keyasint,omitempty"`
	Convention string     `cbor:"5,keyasint"`
	StackDepth int        `cbor:"6,keyasint"`
	Frames     []Frame    `cbor:"7,keyasint"`
	Exception  *Exception `cbor:"8,keyasint,omitempty"`
}

// Capture records t's stack. When t is inside a helper call the walk
// starts at the call site; otherwise pc names where t is stopped. The
// pending exception, if any, is included but left pending.
func Capture(t *vm.Thread, pc vm.PC) *Snapshot {
	s := &Snapshot{
		Version:    Version,
		Thread:     t.ID,
		ThreadName: t.Name,
		Virtual:    t.Virtual != nil,
		Convention: t.Convention().Name(),
		StackDepth: t.StackDepth(),
	}
	visit := func(f *vm.WalkedFrame) bool {
		fr := Frame{SP: f.SP, PC: uint64(f.PC)}
		if f.Kind == vm.FrameResolveKind {
			fr.Kind = FrameResolve
			fr.ResolveKind = f.Flags.Kind().String()
		} else {
			fr.Kind = FrameCompiled
			fr.Class = f.Method.Class.Name
			fr.Method = f.Method.Name
			fr.Descriptor = f.Method.Descriptor
			fr.Line = f.Line
			fr.Decompiled = f.Decompiled
		}
		s.Frames = append(s.Frames, fr)
		return true
	}
	if t.JITReturnAddress() != 0 {
		t.WalkStack(visit)
	} else {
		t.WalkStackAt(pc, visit)
	}
	if e := t.PendingException(); e != nil {
		s.Exception = exceptionOf(e)
	}
	return s
}

func exceptionOf(e *vm.Throwable) *Exception {
	out := &Exception{Class: e.ClassName, Message: e.Message}
	for _, el := range e.StackTrace {
		out.Trace = append(out.Trace, TraceElement{
			Class:  el.ClassName,
			Method: el.MethodName,
			File:   el.FileName,
			Line:   el.Line,
			Native: el.Native,
		})
	}
	if e.Cause != nil {
		out.Cause = exceptionOf(e.Cause)
	}
	return out
}

// Format writes s in a readable form, one frame per line.
func (s *Snapshot) Format(w io.Writer) error {
	kind := "platform"
	if s.Virtual {
		kind = "virtual"
	}
	if _, err := fmt.Fprintf(w, "thread %q %s (%s, %s convention, %d slots)\n",
		s.ThreadName, s.Thread, kind, s.Convention, s.StackDepth); err != nil {
		return err
	}
	for _, f := range s.Frames {
		var err error
		switch f.Kind {
		case FrameResolve:
			_, err = fmt.Fprintf(w, "  [%4d] resolve %-12s return %#x\n", f.SP, f.ResolveKind, f.PC)
		default:
			mark := ""
			if f.Decompiled {
				mark = " (decompiled)"
			}
			_, err = fmt.Fprintf(w, "  [%4d] %s.%s%s line %d pc %#x%s\n",
				f.SP, f.Class, f.Method, f.Descriptor, f.Line, f.PC, mark)
		}
		if err != nil {
			return err
		}
	}
	for e, prefix := s.Exception, "pending"; e != nil; e, prefix = e.Cause, "caused by" {
		if _, err := fmt.Fprintf(w, "  %s: %s %s\n", prefix, e.Class, e.Message); err != nil {
			return err
		}
	}
	return nil
}
