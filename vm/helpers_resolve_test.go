package vm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

func TestResolveClass(t *testing.T) {
	f := newFixture(t)
	f.define(t, ClassDef{Name: "app/Secret"})
	user := f.define(t, ClassDef{
		Name: "other/User",
		Pool: []CPEntry{
			&ClassRef{Name: "java/lang/String"},
			&ClassRef{Name: "app/Nope"},
			&ClassRef{Name: "app/Secret"},
			&ClassRef{Name: "[[I"},
		},
	})

	v, err := f.invoke(HelperResolveClass, user.Pool, 1, testSite)
	if err != nil || v != f.vm.StringClass() {
		t.Errorf("resolve String = %v, %v", v, err)
	}
	if user.Pool.ClassRef(1).Resolved() != f.vm.StringClass() {
		t.Error("entry should be cached")
	}

	_, err = f.invoke(HelperResolveClass, user.Pool, 2, testSite)
	e := wantThrow(t, err, KindNoClassDefFoundError)
	if e.Message != "app.Nope" {
		t.Errorf("message = %q, want %q", e.Message, "app.Nope")
	}

	_, err = f.invoke(HelperResolveClass, user.Pool, 3, testSite)
	e = wantThrow(t, err, KindIllegalAccessError)
	if want := "class other.User cannot access class app.Secret"; e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}

	v, err = f.invoke(HelperResolveClass, user.Pool, 4, testSite)
	if err != nil {
		t.Fatalf("resolve [[I: %v", err)
	}
	if c := v.(*Class); c.Name != "[[I" || c.ComponentType() != f.vm.PrimitiveArrayClass(TInt) {
		t.Errorf("resolved %v, want [[I", c)
	}
	if f.t.StackDepth() != f.md.FrameSize {
		t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
	}
}

func TestResolveString(t *testing.T) {
	f := newFixture(t)
	pool := NewConstantPool(&StringRef{Value: "hello"})
	v, err := f.invoke(HelperResolveString, pool, 1, testSite)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if v != f.vm.Intern("hello") {
		t.Error("resolved string should be the interned instance")
	}
}

func configClass(f *fixture, tb testing.TB, init func(t *Thread) *Throwable) *Class {
	return f.define(tb, ClassDef{
		Name:      "app/Config",
		Modifiers: AccPublic,
		Fields: []FieldDef{
			{Name: "value", Descriptor: "I", Modifiers: AccPublic | AccStatic | AccVolatile},
			{Name: "LIMIT", Descriptor: "I", Modifiers: AccPublic | AccStatic | AccFinal},
			{Name: "count", Descriptor: "I", Modifiers: AccPublic},
		},
		Methods:     []MethodDef{{Name: "load", Descriptor: "()V", Modifiers: AccPublic | AccStatic}},
		Initializer: init,
	})
}

// configPool refers to app/Config from a class outside it.
func configPool() *ConstantPool {
	return NewConstantPool(
		&ClassRef{Name: "app/Config"},
		&StaticFieldRef{ClassIndex: 1, Name: "value", Descriptor: "I"},
		&StaticFieldRef{ClassIndex: 1, Name: "LIMIT", Descriptor: "I"},
		&FieldRef{ClassIndex: 1, Name: "count", Descriptor: "I"},
		&StaticFieldRef{ClassIndex: 1, Name: "count", Descriptor: "I"},
		&FieldRef{ClassIndex: 1, Name: "value", Descriptor: "I"},
		&FieldRef{ClassIndex: 1, Name: "missing", Descriptor: "I"},
		NewMethodRef(TagStaticMethodRef, 1, "load", "()V"),
	)
}

func TestConcurrentStaticFieldResolution(t *testing.T) {
	f := newFixture(t)
	var runs atomic.Int32
	configClass(f, t, func(t *Thread) *Throwable {
		runs.Add(1)
		time.Sleep(10 * time.Millisecond)
		return nil
	})
	pool := configPool()

	const n = 8
	results := make([]StaticFieldResolution, n)
	threads := make([]*Thread, n)
	for i := range threads {
		threads[i] = f.newThread("resolver")
	}
	var g errgroup.Group
	for i := range threads {
		g.Go(func() error {
			v, err := f.invokeOn(threads[i], HelperResolveStaticField, pool, 2, testSite)
			if err != nil {
				return err
			}
			results[i] = v.(StaticFieldResolution)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("initializer ran %d times, want 1", runs.Load())
	}
	for i, r := range results {
		if r.Slot != results[0].Slot || r.Field.Name != "value" {
			t.Errorf("result %d = %+v, want the same slot as result 0", i, r)
		}
		if r.FromClinit {
			t.Errorf("result %d is marked as resolved from the initializer", i)
		}
	}
	if pool.StaticFieldRef(2).Slot() != results[0].Slot {
		t.Error("entry should cache the slot")
	}
}

func TestStaticFieldResolvedFromInitializer(t *testing.T) {
	f := newFixture(t)
	pool := configPool()
	var inner StaticFieldResolution
	var innerErr error
	configClass(f, t, func(t *Thread) *Throwable {
		v, err := f.vm.Trampoline.Invoke(context.Background(), t, testSite, HelperResolveStaticField, pool, 2, testSite)
		if err != nil {
			innerErr = err
			return nil
		}
		inner = v.(StaticFieldResolution)
		inner.Slot.SetBits(42)
		return nil
	})

	v, err := f.invoke(HelperResolveStaticField, pool, 2, testSite)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if innerErr != nil {
		t.Fatalf("resolve from initializer: %v", innerErr)
	}
	if !inner.FromClinit {
		t.Error("resolution from the running initializer should be marked")
	}
	outer := v.(StaticFieldResolution)
	if outer.FromClinit {
		t.Error("resolution after initialization should not be marked")
	}
	if outer.Slot != inner.Slot || outer.Slot.Bits() != 42 {
		t.Errorf("slot = %v holding %d, want the initializer's slot holding 42", outer.Slot, outer.Slot.Bits())
	}
}

func TestStaticFieldDirectNeverMarked(t *testing.T) {
	f := newFixture(t)
	pool := configPool()
	var inner StaticFieldResolution
	configClass(f, t, func(t *Thread) *Throwable {
		v, err := f.vm.Trampoline.Invoke(context.Background(), t, testSite, HelperResolveStaticFieldDirect, pool, 2)
		if err != nil {
			return NewThrowable(KindInternalError, err.Error())
		}
		inner = v.(StaticFieldResolution)
		return nil
	})
	if _, err := f.invoke(HelperResolveStaticField, pool, 2, testSite); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if inner.Field == nil || inner.FromClinit {
		t.Errorf("direct resolution = %+v, want an unmarked result", inner)
	}
}

func TestFieldResolutionErrors(t *testing.T) {
	f := newFixture(t)
	configClass(f, t, nil)

	tests := []struct {
		name  string
		id    HelperID
		index int
		kind  ExceptionKind
	}{
		{"final static put", HelperResolveStaticFieldSetter, 3, KindIllegalAccessError},
		{"instance field as static", HelperResolveStaticField, 5, KindIncompatibleClassChangeError},
		{"static field as instance", HelperResolveField, 6, KindIncompatibleClassChangeError},
		{"missing field", HelperResolveField, 7, KindNoSuchFieldError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// A fresh pool per case keeps entries unresolved.
			pool := configPool()
			pool.Class = f.main
			_, err := f.invoke(tt.id, pool, tt.index, testSite)
			wantThrow(t, err, tt.kind)
		})
	}
}

func TestResolveInstanceField(t *testing.T) {
	f := newFixture(t)
	config := configClass(f, t, nil)
	pool := configPool()

	v, err := f.invoke(HelperResolveField, pool, 4, testSite)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if want := config.FindField("count").Offset(); v != want {
		t.Errorf("offset = %v, want %d", v, want)
	}
	if pool.FieldRef(4).Resolved(true) != nil {
		t.Error("a read resolution should not count for writes")
	}
	if _, err := f.invoke(HelperResolveFieldSetterDirect, pool, 4); err != nil {
		t.Fatalf("resolve setter: %v", err)
	}
	if pool.FieldRef(4).Resolved(true) == nil {
		t.Error("setter resolution should be cached")
	}
}

func TestResolvedFieldIsVolatile(t *testing.T) {
	f := newFixture(t)
	configClass(f, t, nil)
	pool := configPool()

	v, err := f.invoke(HelperResolvedFieldIsVolatile, pool, 2, true)
	if err != nil || v != false {
		t.Errorf("unresolved entry = %v, %v, want false", v, err)
	}
	if _, err := f.invoke(HelperResolveStaticField, pool, 2, testSite); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, err = f.invoke(HelperResolvedFieldIsVolatile, pool, 2, true)
	if err != nil || v != true {
		t.Errorf("volatile static = %v, %v, want true", v, err)
	}
	if _, err := f.invoke(HelperResolveField, pool, 4, testSite); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, err = f.invoke(HelperResolvedFieldIsVolatile, pool, 4, false)
	if err != nil || v != false {
		t.Errorf("plain instance field = %v, %v, want false", v, err)
	}
}

func TestResolveClassFromStaticField(t *testing.T) {
	f := newFixture(t)
	config := configClass(f, t, nil)
	v, err := f.invoke(HelperResolveClassFromStaticField, configPool(), 2, testSite)
	if err != nil || v != config {
		t.Errorf("class = %v, %v, want app.Config", v, err)
	}
}

func TestResolveStaticMethod(t *testing.T) {
	f := newFixture(t)
	pool := configPool()
	pool.StaticSplitTable = []int{8}
	var inner StaticMethodResolution
	config := configClass(f, t, func(t *Thread) *Throwable {
		v, err := f.vm.Trampoline.Invoke(context.Background(), t, testSite, HelperResolveStaticMethod, testSite, pool, 8)
		if err != nil {
			return NewThrowable(KindInternalError, err.Error())
		}
		inner = v.(StaticMethodResolution)
		return nil
	})
	load := config.FindMethod("load", "()V")

	v, err := f.invoke(HelperResolveStaticMethod, testSite, pool, StaticSplitTableIndexFlag)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r := v.(StaticMethodResolution); r.Method != load || r.FromClinit {
		t.Errorf("resolution = %+v, want load without the clinit mark", r)
	}
	if inner.Method != load || !inner.FromClinit {
		t.Errorf("resolution from initializer = %+v, want load with the clinit mark", inner)
	}
}

func methodClasses(f *fixture, tb testing.TB) (*Class, *ConstantPool) {
	base := f.define(tb, ClassDef{
		Name:      "app/Base",
		Modifiers: AccPublic,
		Methods: []MethodDef{
			{Name: "run", Descriptor: "()V", Modifiers: AccPublic},
			{Name: "helper", Descriptor: "()V", Modifiers: AccPrivate},
			{Name: "todo", Descriptor: "()V", Modifiers: AccPublic | AccAbstract},
			{Name: "make", Descriptor: "()V", Modifiers: AccPublic | AccStatic},
		},
	})
	pool := NewConstantPool(
		&ClassRef{Name: "app/Base"},
		NewMethodRef(TagMethodRef, 1, "run", "()V"),
		NewMethodRef(TagMethodRef, 1, "helper", "()V"),
		NewMethodRef(TagSpecialMethodRef, 1, "helper", "()V"),
		NewMethodRef(TagSpecialMethodRef, 1, "todo", "()V"),
		NewMethodRef(TagSpecialMethodRef, 1, "make", "()V"),
		NewMethodRef(TagMethodRef, 1, "gone", "()V"),
		&ClassRef{Name: "java/lang/CharSequence"},
		NewMethodRef(TagMethodRef, 8, "length", "()I"),
	)
	return base, pool
}

func TestResolveVirtualMethod(t *testing.T) {
	f := newFixture(t)
	base, pool := methodClasses(f, t)

	v, err := f.invoke(HelperResolveVirtualMethod, &CallSiteLiterals{Pool: pool, Index: 2}, testSite)
	if err != nil {
		t.Fatalf("resolve run: %v", err)
	}
	r := v.(VirtualMethodResolution)
	if r.Direct != nil || base.VTable().Lookup(r.VTableIndex) != base.FindMethod("run", "()V") {
		t.Errorf("resolution = %+v, want the vtable slot of run", r)
	}

	v, err = f.invoke(HelperResolveVirtualMethod, &CallSiteLiterals{Pool: pool, Index: 3}, testSite)
	if err != nil {
		t.Fatalf("resolve helper: %v", err)
	}
	r = v.(VirtualMethodResolution)
	if r.VTableIndex != InvokePrivateOffset || r.Direct != base.FindMethod("helper", "()V") {
		t.Errorf("resolution = %+v, want a direct call to helper", r)
	}

	_, err = f.invoke(HelperResolveVirtualMethod, &CallSiteLiterals{Pool: pool, Index: 7}, testSite)
	e := wantThrow(t, err, KindNoSuchMethodError)
	if e.Message != "app.Base.gone()V" {
		t.Errorf("message = %q", e.Message)
	}

	_, err = f.invoke(HelperResolveVirtualMethod, &CallSiteLiterals{Pool: pool, Index: 9}, testSite)
	wantThrow(t, err, KindIncompatibleClassChangeError)
}

func TestResolveSpecialMethod(t *testing.T) {
	f := newFixture(t)
	base, pool := methodClasses(f, t)
	pool.SpecialSplitTable = []int{5, 4}

	v, err := f.invoke(HelperResolveSpecialMethod, testSite, pool, SpecialSplitTableIndexFlag|1)
	if err != nil || v != base.FindMethod("helper", "()V") {
		t.Errorf("resolve helper = %v, %v", v, err)
	}

	tests := []struct {
		name  string
		index int
		kind  ExceptionKind
	}{
		{"abstract", 5, KindAbstractMethodError},
		{"abstract through split table", SpecialSplitTableIndexFlag, KindAbstractMethodError},
		{"static", 6, KindIncompatibleClassChangeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.invoke(HelperResolveSpecialMethod, testSite, pool, tt.index)
			wantThrow(t, err, tt.kind)
		})
	}
}

func TestResolveMethodTypeAndHandle(t *testing.T) {
	f := newFixture(t)
	base, _ := methodClasses(f, t)
	pool := NewConstantPool(
		&ClassRef{Name: "app/Base"},
		NewMethodRef(TagMethodRef, 1, "run", "()V"),
		&MethodTypeRef{Descriptor: "(I)V"},
		&MethodTypeRef{Descriptor: "bogus"},
		&MethodHandleRef{Kind: RefInvokeVirtual, RefIndex: 2},
		&MethodHandleRef{Kind: 42, RefIndex: 2},
	)

	v, err := f.invoke(HelperResolveMethodType, pool, 3, testSite)
	if err != nil {
		t.Fatalf("method type: %v", err)
	}
	mt := v.(*Object)
	if mt.Payload() != "(I)V" {
		t.Errorf("payload = %v, want (I)V", mt.Payload())
	}
	again, _ := f.invoke(HelperResolveMethodType, pool, 3, testSite)
	if again != mt {
		t.Error("second resolution should return the cached MethodType")
	}

	_, err = f.invoke(HelperResolveMethodType, pool, 4, testSite)
	wantThrow(t, err, KindInternalError)

	v, err = f.invoke(HelperResolveMethodHandle, pool, 5, testSite)
	if err != nil {
		t.Fatalf("method handle: %v", err)
	}
	if m := v.(*Object).Payload(); m != base.FindMethod("run", "()V") {
		t.Errorf("handle target = %v, want app.Base.run", m)
	}

	_, err = f.invoke(HelperResolveMethodHandle, pool, 6, testSite)
	wantThrow(t, err, KindInternalError)
}

func TestResolveInvokeDynamic(t *testing.T) {
	f := newFixture(t)
	calls := 0
	c := f.define(t, ClassDef{
		Name: "app/Lambdas",
		CallSites: []*InvokeDynamicRef{
			{Name: "apply", Descriptor: "()Ljava/lang/Runnable;", Bootstrap: func(t *Thread) (*Object, *Throwable) {
				calls++
				return f.vm.NewCallSite("target"), nil
			}},
			{Name: "broken", Descriptor: "()V", Bootstrap: func(t *Thread) (*Object, *Throwable) {
				return nil, NewThrowable(KindArithmeticException, "boom")
			}},
			{Name: "fatal", Descriptor: "()V", Bootstrap: func(t *Thread) (*Object, *Throwable) {
				return nil, NewThrowable(KindInternalError, "bad")
			}},
		},
	})

	first, err := f.invoke(HelperResolveInvokeDynamic, c.Pool, 0, testSite)
	if err != nil {
		t.Fatalf("indy: %v", err)
	}
	second, err := f.invoke(HelperResolveInvokeDynamic, c.Pool, 0, testSite)
	if err != nil || second != first {
		t.Errorf("second resolution = %v, %v, want the cached call site", second, err)
	}
	if calls != 1 {
		t.Errorf("bootstrap ran %d times, want 1", calls)
	}

	_, err = f.invoke(HelperResolveInvokeDynamic, c.Pool, 1, testSite)
	e := wantThrow(t, err, KindBootstrapMethodError)
	if e.Cause == nil || e.Cause.Kind != KindArithmeticException {
		t.Errorf("cause = %v, want ArithmeticException", e.Cause)
	}
	_, err = f.invoke(HelperResolveInvokeDynamic, c.Pool, 2, testSite)
	wantThrow(t, err, KindInternalError)
}

func TestResolveConstantDynamic(t *testing.T) {
	f := newFixture(t)
	calls := 0
	value := f.vm.NewString("v")
	pool := NewConstantPool(
		&ConstantDynamicRef{Name: "v", Descriptor: "Ljava/lang/String;", Bootstrap: func(t *Thread) (*Object, *Throwable) {
			calls++
			return value, nil
		}},
		&ConstantDynamicRef{Name: "nothing", Descriptor: "Ljava/lang/Object;", Bootstrap: func(t *Thread) (*Object, *Throwable) {
			calls++
			return nil, nil
		}},
		&ConstantDynamicRef{Name: "bad", Descriptor: "I", Bootstrap: func(t *Thread) (*Object, *Throwable) {
			calls++
			return nil, NewThrowable(KindArithmeticException, "boom")
		}},
	)

	for i := 0; i < 2; i++ {
		v, err := f.invoke(HelperResolveConstantDynamic, pool, 1, testSite)
		if err != nil || v != value {
			t.Errorf("condy = %v, %v, want the bootstrap value", v, err)
		}
		v, err = f.invoke(HelperResolveConstantDynamic, pool, 2, testSite)
		if err != nil || v != (*Object)(nil) {
			t.Errorf("null condy = %v, %v, want null", v, err)
		}
	}
	if calls != 2 {
		t.Errorf("bootstraps ran %d times, want 2", calls)
	}

	_, err := f.invoke(HelperResolveConstantDynamic, pool, 3, testSite)
	first := wantThrow(t, err, KindBootstrapMethodError)
	_, err = f.invoke(HelperResolveConstantDynamic, pool, 3, testSite)
	if second := wantThrow(t, err, KindBootstrapMethodError); second != first {
		t.Error("a failed constant should rethrow the recorded exception")
	}
	if calls != 3 {
		t.Errorf("bootstraps ran %d times, want 3", calls)
	}
}

func TestResolveDeoptimizedCaller(t *testing.T) {
	f := newFixture(t)
	configClass(f, t, func(t *Thread) *Throwable { return nil })
	f.vm.Hooks.Register(HookClassInitialize, func(d *HookData) { d.Thread.DecompileTopFrame() })

	_, err := f.invoke(HelperResolveStaticField, configPool(), 2, testSite)
	var ct *ControlTransfer
	if !errors.As(err, &ct) {
		t.Fatalf("err = %v, want a control transfer", err)
	}
	if ct.Action != RunAt(f.vm.DecompileTrampoline) {
		t.Errorf("action = %s, want run-at decompile trampoline", ct.Action)
	}
	if f.t.StackDepth() != f.md.FrameSize {
		t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
	}
}
