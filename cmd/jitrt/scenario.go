package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/jitrt/vm"
	"github.com/chazu/jitrt/vm/framedump"
)

// Compiled code of app/Workload.run. Every helper call is made from
// callSite.
const (
	codeStart vm.PC = 0x0010_0000
	codeEnd   vm.PC = 0x0010_0400
	callSite  vm.PC = 0x0010_0010
)

// workload is the shared state the scenarios run against.
type workload struct {
	vm   *vm.VM
	run  *vm.MethodMetadata
	pool *vm.ConstantPool

	point   *vm.Class
	lazy    *vm.Class
	strings *vm.Class
	lock    *vm.Object

	mu    sync.Mutex
	snaps []*framedump.Snapshot
}

type scenario struct {
	name string
	run  func(w *workload, ctx context.Context, t *vm.Thread) error
}

var scenarios = []scenario{
	{"allocate", (*workload).allocate},
	{"cast", (*workload).cast},
	{"monitor", (*workload).monitor},
	{"resolve", (*workload).resolve},
	{"throw", (*workload).throw},
}

// selectScenarios returns the scenarios named in a comma-separated list,
// or all of them for "all".
func selectScenarios(list string) ([]scenario, error) {
	if list == "" || list == "all" {
		return scenarios, nil
	}
	var out []scenario
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		found := false
		for _, sc := range scenarios {
			if sc.name == name {
				out = append(out, sc)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown scenario %q", name)
		}
	}
	return out, nil
}

func newWorkload(m *vm.VM) (*workload, error) {
	w := &workload{vm: m}
	main, err := m.DefineClass(nil, vm.ClassDef{
		Name:       "app/Workload",
		Modifiers:  vm.AccPublic,
		Methods:    []vm.MethodDef{{Name: "run", Descriptor: "()V", Modifiers: vm.AccPublic | vm.AccStatic}},
		SourceFile: "Workload.java",
		Pool: []vm.CPEntry{
			&vm.ClassRef{Name: "app/Point"},
			&vm.StringRef{Value: "workload"},
		},
	})
	if err != nil {
		return nil, err
	}
	w.pool = main.Pool
	w.run = &vm.MethodMetadata{
		Method:    main.FindMethod("run", "()V"),
		StartPC:   codeStart,
		EndPC:     codeEnd,
		FrameSize: 4,
		Lines:     map[vm.PC]int{0: 1, 0x10: 7},
	}
	if err := m.Code.Register(w.run); err != nil {
		return nil, err
	}

	w.point, err = m.DefineClass(nil, vm.ClassDef{
		Name:      "app/Point",
		Modifiers: vm.AccPublic,
		Fields: []vm.FieldDef{
			{Name: "x", Descriptor: "I", Modifiers: vm.AccPublic},
			{Name: "y", Descriptor: "I", Modifiers: vm.AccPublic},
		},
	})
	if err != nil {
		return nil, err
	}
	w.lazy, err = m.DefineClass(nil, vm.ClassDef{
		Name:        "app/Lazy",
		Initializer: func(t *vm.Thread) *vm.Throwable { return nil },
	})
	if err != nil {
		return nil, err
	}
	w.strings = m.ArrayOf(m.StringClass())
	w.lock = m.NewObject(m.ObjectClass())

	// The first allocation of app/Lazy runs its initializer under a
	// resolve frame; keep a picture of that stack.
	m.Hooks.Register(vm.HookClassInitialize, func(d *vm.HookData) {
		snap := framedump.Capture(d.Thread, 0)
		w.mu.Lock()
		w.snaps = append(w.snaps, snap)
		w.mu.Unlock()
	})
	return w, nil
}

func (w *workload) call(ctx context.Context, t *vm.Thread, id vm.HelperID, args ...any) (any, error) {
	return w.vm.Trampoline.Invoke(ctx, t, callSite, id, args...)
}

// expectThrow calls id and checks that it threw kind.
func (w *workload) expectThrow(ctx context.Context, t *vm.Thread, kind vm.ExceptionKind, id vm.HelperID, args ...any) error {
	_, err := w.call(ctx, t, id, args...)
	var e *vm.Throwable
	if !errors.As(err, &e) {
		return fmt.Errorf("%s: got %v, want %s", id, err, kind.ClassName())
	}
	if e.Kind != kind {
		return fmt.Errorf("%s: threw %v, want %s", id, e, kind.ClassName())
	}
	return nil
}

func (w *workload) allocate(ctx context.Context, t *vm.Thread) error {
	for _, c := range []*vm.Class{w.point, w.lazy} {
		if _, err := w.call(ctx, t, vm.HelperNewObject, c); err != nil {
			return err
		}
	}
	if _, err := w.call(ctx, t, vm.HelperNewArray, vm.TInt, int32(16)); err != nil {
		return err
	}
	if _, err := w.call(ctx, t, vm.HelperANewArray, w.point, int32(8)); err != nil {
		return err
	}
	return w.expectThrow(ctx, t, vm.KindNegativeArraySizeException, vm.HelperNewArray, vm.TByte, int32(-1))
}

func (w *workload) cast(ctx context.Context, t *vm.Thread) error {
	s := w.vm.NewString("cast")
	if _, err := w.call(ctx, t, vm.HelperCheckCast, w.vm.ObjectClass(), s); err != nil {
		return err
	}
	v, err := w.call(ctx, t, vm.HelperInstanceOf, w.point, s)
	if err != nil {
		return err
	}
	if v != false {
		return fmt.Errorf("instanceOf: String is not a Point")
	}
	array := w.vm.NewArray(w.strings, 4)
	if _, err := w.call(ctx, t, vm.HelperArrayStoreChecked, array, int32(2), s); err != nil {
		return err
	}
	if err := w.expectThrow(ctx, t, vm.KindClassCastException, vm.HelperCheckCast, w.point, s); err != nil {
		return err
	}
	return w.expectThrow(ctx, t, vm.KindArrayStoreException,
		vm.HelperArrayStoreChecked, array, int32(0), w.vm.NewObject(w.point))
}

func (w *workload) monitor(ctx context.Context, t *vm.Thread) error {
	if _, err := w.call(ctx, t, vm.HelperMonitorEntry, w.lock); err != nil {
		return err
	}
	if _, err := w.call(ctx, t, vm.HelperMonitorEntry, w.lock); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := w.call(ctx, t, vm.HelperMonitorExit, w.lock); err != nil {
			return err
		}
	}
	return nil
}

func (w *workload) resolve(ctx context.Context, t *vm.Thread) error {
	v, err := w.call(ctx, t, vm.HelperResolveClass, w.pool, 1, callSite)
	if err != nil {
		return err
	}
	if v != w.point {
		return fmt.Errorf("resolveClass: got %v, want %v", v, w.point)
	}
	v, err = w.call(ctx, t, vm.HelperResolveString, w.pool, 2, callSite)
	if err != nil {
		return err
	}
	if v != w.vm.Intern("workload") {
		return fmt.Errorf("resolveString: got %v, want the interned string", v)
	}
	return nil
}

func (w *workload) throw(ctx context.Context, t *vm.Thread) error {
	if err := w.expectThrow(ctx, t, vm.KindNullPointerException, vm.HelperThrowNullPointerException); err != nil {
		return err
	}
	return w.expectThrow(ctx, t, vm.KindArithmeticException, vm.HelperThrowArithmeticException)
}

// runSuite runs the scenarios on the given number of threads. Odd-numbered
// workers are virtual threads when the VM supports them. It returns the
// worker threads, still inside app/Workload.run.
func (w *workload) runSuite(ctx context.Context, list []scenario, threads, iterations int) ([]*vm.Thread, error) {
	g, ctx := errgroup.WithContext(ctx)
	workers := make([]*vm.Thread, threads)
	for i := range workers {
		name := fmt.Sprintf("worker-%d", i)
		virtual := w.vm.Options().VirtualThreads && i%2 == 1
		var t *vm.Thread
		if virtual {
			t = w.vm.NewVirtualThread(name)
		} else {
			t = w.vm.NewThread(name)
		}
		t.EnterCompiledFrame(w.run, 0)
		workers[i] = t

		body := func(t *vm.Thread) error {
			for _, sc := range list {
				for j := 0; j < iterations; j++ {
					if err := sc.run(w, ctx, t); err != nil {
						return fmt.Errorf("%s on %s: %w", sc.name, t.Name, err)
					}
				}
			}
			return nil
		}
		g.Go(func() error {
			if virtual {
				return w.vm.RunVirtual(ctx, t, body)
			}
			return body(t)
		})
	}
	return workers, g.Wait()
}

// snapshots returns the captured initializer stacks followed by one
// snapshot per worker.
func (w *workload) snapshots(workers []*vm.Thread) []*framedump.Snapshot {
	w.mu.Lock()
	out := append([]*framedump.Snapshot(nil), w.snaps...)
	w.mu.Unlock()
	for _, t := range workers {
		out = append(out, framedump.Capture(t, callSite))
	}
	return out
}
