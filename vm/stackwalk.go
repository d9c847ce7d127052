package vm

import (
	"fmt"
	"sort"
	"sync"
)

// MethodMetadata describes one compiled method body.
type MethodMetadata struct {
	Method    *Method
	StartPC   PC
	EndPC     PC // exclusive
	FrameSize int

	// Lines maps PC offsets from StartPC to source lines; the entry with
	// the greatest offset not above the PC wins.
	Lines map[PC]int
	// InlinedRanges lists PC ranges that belong to inlined callees.
	InlinedRanges [][2]PC
}

// Contains reports whether pc falls inside the method body.
func (md *MethodMetadata) Contains(pc PC) bool { return pc >= md.StartPC && pc < md.EndPC }

// LineFor returns the source line of pc, or 0 if unknown.
func (md *MethodMetadata) LineFor(pc PC) int {
	best, line := PC(0), 0
	for off, l := range md.Lines {
		if md.StartPC+off <= pc && off >= best {
			best, line = off, l
		}
	}
	return line
}

// IsInlined reports whether pc lies inside an inlined call site.
func (md *MethodMetadata) IsInlined(pc PC) bool {
	for _, r := range md.InlinedRanges {
		if pc >= r[0] && pc < r[1] {
			return true
		}
	}
	return false
}

// MetadataTable maps compiled-code PCs to method metadata.
type MetadataTable interface {
	Lookup(pc PC) *MethodMetadata
}

// CodeCache is the reference MetadataTable. It also owns the write
// protection of compiled code: call-site literals may only be patched
// between WriteProtectDisable and WriteProtectEnable.
type CodeCache struct {
	mu      sync.RWMutex
	methods []*MethodMetadata // sorted by StartPC

	patchMu sync.Mutex
}

// NewCodeCache creates an empty code cache.
func NewCodeCache() *CodeCache {
	return &CodeCache{}
}

// Register adds a compiled method body. Bodies must not overlap.
func (cc *CodeCache) Register(md *MethodMetadata) error {
	if md.EndPC <= md.StartPC {
		return fmt.Errorf("code cache: empty body for %v", md.Method)
	}
	if md.FrameSize < 1 {
		return fmt.Errorf("code cache: frame size %d for %v", md.FrameSize, md.Method)
	}
	cc.mu.Lock()
	defer cc.mu.Unlock()
	i := sort.Search(len(cc.methods), func(i int) bool { return cc.methods[i].StartPC >= md.StartPC })
	if i < len(cc.methods) && cc.methods[i].StartPC < md.EndPC {
		return fmt.Errorf("code cache: %v overlaps %v", md.Method, cc.methods[i].Method)
	}
	if i > 0 && cc.methods[i-1].EndPC > md.StartPC {
		return fmt.Errorf("code cache: %v overlaps %v", md.Method, cc.methods[i-1].Method)
	}
	cc.methods = append(cc.methods, nil)
	copy(cc.methods[i+1:], cc.methods[i:])
	cc.methods[i] = md
	return nil
}

// Lookup finds the body containing pc.
func (cc *CodeCache) Lookup(pc PC) *MethodMetadata {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	i := sort.Search(len(cc.methods), func(i int) bool { return cc.methods[i].EndPC > pc })
	if i < len(cc.methods) && cc.methods[i].Contains(pc) {
		return cc.methods[i]
	}
	return nil
}

// WriteProtectDisable opens a code patching window. Windows are exclusive.
func (cc *CodeCache) WriteProtectDisable() { cc.patchMu.Lock() }

// WriteProtectEnable closes the code patching window.
func (cc *CodeCache) WriteProtectEnable() { cc.patchMu.Unlock() }

// ---------------------------------------------------------------------------
// Walking
// ---------------------------------------------------------------------------

// WalkedFrameKind distinguishes the frames a walk reports.
type WalkedFrameKind uint8

const (
	FrameResolveKind WalkedFrameKind = iota
	FrameCompiled
)

// WalkedFrame is one frame reported by WalkStack.
type WalkedFrame struct {
	Kind WalkedFrameKind
	SP   int
	PC   PC

	// Resolve frames.
	Flags FrameFlags

	// Compiled frames.
	Method   *Method
	Metadata *MethodMetadata
	Line     int
	// Decompiled is set when the PC was taken from a decompilation record.
	Decompiled bool
}

// WalkStack visits frames from the top of the stack down until fn returns
// false or the outermost compiled frame has been visited. Without a
// resolve frame on top, the top of the stack must be the compiled frame of
// the current helper call site.
func (t *Thread) WalkStack(fn func(*WalkedFrame) bool) {
	t.walkStack(t.jitReturnAddress, fn)
}

// WalkStackAt walks a thread that is stopped at pc outside any helper
// call, as a debugger or dump writer sees it.
func (t *Thread) WalkStackAt(pc PC, fn func(*WalkedFrame) bool) {
	t.walkStack(pc, fn)
}

func (t *Thread) walkStack(pc PC, fn func(*WalkedFrame) bool) {
	if t.stack == nil {
		return
	}
	p := t.sp
	for t.isResolveFrameAt(p) {
		rf := ResolveFrame{t: t, base: p}
		pc = rf.ReturnAddress()
		if !fn(&WalkedFrame{Kind: FrameResolveKind, SP: p, PC: pc, Flags: rf.Flags()}) {
			return
		}
		p = rf.returnSP()
	}
	synthetic := false
	if pc == 0 {
		pc, synthetic = t.syntheticPC(p), true
	}
	for pc != 0 && p < len(t.stack) {
		f := &WalkedFrame{Kind: FrameCompiled, SP: p, PC: pc, Decompiled: synthetic}
		synthetic = false
		if pc == t.vm.DecompileTrampoline {
			if rec := t.decompilationFor(p); rec != nil {
				f.PC, f.Decompiled = rec.PC, true
			}
		}
		md := t.vm.Metadata.Lookup(f.PC)
		if md == nil {
			return
		}
		f.Method, f.Metadata, f.Line = md.Method, md, md.LineFor(f.PC)
		if !fn(f) {
			return
		}
		p += md.FrameSize
		pc, _ = t.stack[p-1].(PC)
	}
}

// syntheticPC returns the PC of a compiled frame whose resolve frame was
// zeroed by fixStackForSyntheticHandler.
func (t *Thread) syntheticPC(frameSP int) PC {
	if rec := t.decompilationFor(frameSP); rec != nil && rec.Synthetic {
		return rec.PC
	}
	return 0
}

// CallerMethod returns the method of the nearest compiled frame. Field
// setter resolution uses it to check final-field access.
func (t *Thread) CallerMethod() *Method {
	var caller *Method
	t.WalkStack(func(f *WalkedFrame) bool {
		if f.Kind == FrameCompiled {
			caller = f.Method
			return false
		}
		return true
	})
	return caller
}
