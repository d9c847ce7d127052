package vm

import (
	"testing"
)

func TestCheckCastScenarios(t *testing.T) {
	f := newFixture(t)
	str := f.vm.StringClass()
	integer := f.vm.BootLoader().FindClass("java/lang/Integer")
	point := f.define(t, ClassDef{
		Name:      "app/Vec",
		Modifiers: AccPublic | AccFinal,
		Flags:     ClassValueType | ClassPrimitiveValueType,
	})
	s := f.vm.NewString("text")

	if _, err := f.invoke(HelperCheckCast, str, (*Object)(nil)); err != nil {
		t.Errorf("checkcast(null, String) = %v, want success", err)
	}

	_, err := f.invoke(HelperCheckCast, point, (*Object)(nil))
	wantThrow(t, err, KindNullPointerException)

	_, err = f.invoke(HelperCheckCast, integer, s)
	e := wantThrow(t, err, KindClassCastException)
	want := "class java.lang.String cannot be cast to class java.lang.Integer"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
	if len(e.StackTrace) == 0 || e.StackTrace[0].MethodName != "run" || e.StackTrace[0].Line != 12 {
		t.Errorf("stack trace = %+v, want app/Main.run line 12 on top", e.StackTrace)
	}
}

func TestCompatibleChecksStayOnFastPath(t *testing.T) {
	f := newFixture(t)
	str := f.vm.StringClass()
	cs := f.vm.BootLoader().FindClass("java/lang/CharSequence")
	s := f.vm.NewString("text")

	for i := 0; i < 100; i++ {
		for _, target := range []*Class{str, cs, f.vm.ObjectClass()} {
			if _, err := f.invoke(HelperCheckCast, target, s); err != nil {
				t.Fatalf("checkcast to %v: %v", target, err)
			}
			v, err := f.invoke(HelperInstanceOf, target, s)
			if err != nil || v != true {
				t.Fatalf("instanceof %v = %v, %v, want true", target, v, err)
			}
		}
	}
	for _, id := range []HelperID{HelperCheckCast, HelperInstanceOf} {
		prof := f.vm.Profiler.Profile(id)
		if prof.SlowEntries != 0 {
			t.Errorf("%s slow entries = %d, want 0", id, prof.SlowEntries)
		}
		if prof.FastHits != 300 {
			t.Errorf("%s fast hits = %d, want 300", id, prof.FastHits)
		}
	}
}

func TestInstanceOf(t *testing.T) {
	f := newFixture(t)
	integer := f.vm.BootLoader().FindClass("java/lang/Integer")
	tests := []struct {
		name   string
		class  *Class
		object *Object
		want   bool
	}{
		{"null", f.vm.StringClass(), nil, false},
		{"same class", f.vm.StringClass(), f.vm.NewString("a"), true},
		{"unrelated", integer, f.vm.NewString("a"), false},
		{"array as Object", f.vm.ObjectClass(), f.vm.NewArray(f.vm.PrimitiveArrayClass(TByte), 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := f.invoke(HelperInstanceOf, tt.class, tt.object)
			if err != nil {
				t.Fatalf("instanceof: %v", err)
			}
			if v != tt.want {
				t.Errorf("instanceof = %v, want %v", v, tt.want)
			}
		})
	}
}

func TestCheckAssignable(t *testing.T) {
	f := newFixture(t)
	v, err := f.invoke(HelperCheckAssignable, f.vm.StringClass(), f.vm.ObjectClass())
	if err != nil || v != true {
		t.Errorf("String assignable to Object = %v, %v, want true", v, err)
	}
	v, err = f.invoke(HelperCheckAssignable, f.vm.ObjectClass(), f.vm.StringClass())
	if err != nil || v != false {
		t.Errorf("Object assignable to String = %v, %v, want false", v, err)
	}
}

func TestArrayStoreOutOfBoundsLeavesArrayUnchanged(t *testing.T) {
	f := newFixture(t)
	strArray := f.vm.ArrayOf(f.vm.StringClass())
	a := f.vm.NewArray(strArray, 3)
	orig := []*Object{f.vm.NewString("a"), f.vm.NewString("b"), f.vm.NewString("c")}
	for i, s := range orig {
		a.Element(int32(i)).SetRef(s)
	}

	_, err := f.invoke(HelperArrayStoreChecked, a, int32(5), f.vm.NewString("x"))
	e := wantThrow(t, err, KindArrayIndexOutOfBoundsException)
	if e.Message != "Index 5 out of bounds for length 3" {
		t.Errorf("message = %q", e.Message)
	}
	for i, s := range orig {
		if got := a.Element(int32(i)).Ref(); got != s {
			t.Errorf("element %d = %v, want %v", i, got, s)
		}
	}
}

func TestArrayStoreChecked(t *testing.T) {
	f := newFixture(t)
	strArray := f.vm.ArrayOf(f.vm.StringClass())
	integer := f.vm.BootLoader().FindClass("java/lang/Integer")
	a := f.vm.NewArray(strArray, 2)
	a.Tenure()
	s := f.vm.NewString("young")

	if _, err := f.invoke(HelperArrayStoreChecked, a, int32(1), s); err != nil {
		t.Fatalf("store: %v", err)
	}
	if a.Element(1).Ref() != s {
		t.Error("value was not stored")
	}
	if !f.heap().IsRemembered(a) {
		t.Error("old array holding a young value should be remembered")
	}

	_, err := f.invoke(HelperArrayStoreChecked, a, int32(0), f.vm.NewObject(integer))
	e := wantThrow(t, err, KindArrayStoreException)
	want := "java.lang.Integer cannot be stored in an array of type [Ljava.lang.String;"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
	if a.Element(0).Ref() != nil {
		t.Error("failed store modified the array")
	}

	_, err = f.invoke(HelperArrayStoreChecked, (*Object)(nil), int32(0), s)
	wantThrow(t, err, KindNullPointerException)
}

func TestTypeCheckArrayStore(t *testing.T) {
	f := newFixture(t)
	strArray := f.vm.ArrayOf(f.vm.StringClass())
	objArray := f.vm.ArrayOf(f.vm.ObjectClass())
	integer := f.vm.BootLoader().FindClass("java/lang/Integer")
	vec := f.define(t, ClassDef{
		Name:      "app/Vec",
		Modifiers: AccPublic | AccFinal,
		Flags:     ClassValueType | ClassPrimitiveValueType,
	})
	vecArray := f.vm.ArrayOf(vec)
	s := f.vm.NewString("s")
	i := f.vm.NewObject(integer)

	tests := []struct {
		name  string
		id    HelperID
		array *Object
		value *Object
		want  ExceptionKind // KindThrowable for success
	}{
		{"compatible", HelperTypeCheckArrayStore, f.vm.NewArray(strArray, 1), s, KindThrowable},
		{"Object[] takes anything", HelperTypeCheckArrayStore, f.vm.NewArray(objArray, 1), i, KindThrowable},
		{"null value", HelperTypeCheckArrayStore, f.vm.NewArray(strArray, 1), nil, KindThrowable},
		{"null array unchecked", HelperTypeCheckArrayStore, nil, s, KindThrowable},
		{"null array checked", HelperTypeCheckArrayStoreWithNullCheck, nil, s, KindNullPointerException},
		{"mismatch", HelperTypeCheckArrayStore, f.vm.NewArray(strArray, 1), i, KindArrayStoreException},
		{"null into value array", HelperTypeCheckArrayStoreWithNullCheck, f.vm.NewArray(vecArray, 1), nil, KindNullPointerException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.invoke(tt.id, tt.array, tt.value)
			if tt.want == KindThrowable {
				if err != nil {
					t.Errorf("err = %v, want success", err)
				}
				return
			}
			wantThrow(t, err, tt.want)
		})
	}
}

func TestCheckCastForArrayStore(t *testing.T) {
	f := newFixture(t)
	integer := f.vm.BootLoader().FindClass("java/lang/Integer")
	_, err := f.invoke(HelperCheckCastForArrayStore, f.vm.StringClass(), f.vm.NewObject(integer))
	e := wantThrow(t, err, KindArrayStoreException)
	want := "java.lang.Integer cannot be stored in an array of type [Ljava.lang.String;"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
}

// shapes defines an interface and three receivers: one implementing it
// publicly, one implementing it with a non-public method and one
// unrelated.
func shapes(f *fixture, tb testing.TB) (iface, square, hidden, other *Class) {
	iface = f.define(tb, ClassDef{
		Name:      "app/Shape",
		Modifiers: AccPublic | AccInterface | AccAbstract,
		Methods:   []MethodDef{{Name: "area", Descriptor: "()D", Modifiers: AccPublic | AccAbstract}},
	})
	square = f.define(tb, ClassDef{
		Name:       "app/Square",
		Interfaces: []string{"app/Shape"},
		Methods:    []MethodDef{{Name: "area", Descriptor: "()D", Modifiers: AccPublic}},
	})
	hidden = f.define(tb, ClassDef{
		Name:       "app/Hidden",
		Interfaces: []string{"app/Shape"},
		Methods:    []MethodDef{{Name: "area", Descriptor: "()D"}},
	})
	other = f.define(tb, ClassDef{Name: "app/Other"})
	return
}

func shapeCallSite() *InterfaceCallSite {
	pool := NewConstantPool(
		&ClassRef{Name: "app/Shape"},
		&InterfaceMethodRef{ClassIndex: 1, Name: "area", Descriptor: "()D"},
	)
	return &InterfaceCallSite{CallSiteLiterals: CallSiteLiterals{Pool: pool, Index: 2}}
}

func TestInterfaceDispatch(t *testing.T) {
	f := newFixture(t)
	_, square, hidden, other := shapes(f, t)
	site := shapeCallSite()

	v, err := f.invoke(HelperResolveInterfaceMethod, site, testSite)
	if err != nil || v != true {
		t.Fatalf("resolve = %v, %v, want true", v, err)
	}
	if site.Resolution() == nil {
		t.Fatal("call site was not populated")
	}

	v, err = f.invoke(HelperLookupInterfaceMethod, square, site, testSite)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	m := square.VTable().Lookup(v.(int))
	if m == nil || m.Class != square || m.Name != "area" {
		t.Errorf("slot %v holds %v, want app.Square.area", v, m)
	}

	_, err = f.invoke(HelperLookupInterfaceMethod, hidden, site, testSite)
	wantThrow(t, err, KindIllegalAccessError)

	_, err = f.invoke(HelperLookupInterfaceMethod, other, site, testSite)
	e := wantThrow(t, err, KindIncompatibleClassChangeError)
	want := "Class app.Other does not implement the requested interface app.Shape"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
}

func TestLookupDynamicPublicInterfaceMethod(t *testing.T) {
	f := newFixture(t)
	iface, square, hidden, _ := shapes(f, t)
	area := iface.FindMethod("area", "()D")

	v, err := f.invoke(HelperLookupDynamicPublicInterfaceMethod, square, area)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m := square.VTable().Lookup(v.(int)); m.Class != square {
		t.Errorf("slot holds %v, want app.Square.area", m)
	}
	_, err = f.invoke(HelperLookupDynamicPublicInterfaceMethod, hidden, area)
	wantThrow(t, err, KindIllegalAccessError)
}

func TestAcmp(t *testing.T) {
	f := newFixture(t)
	money := f.define(t, ClassDef{
		Name:      "app/Money",
		Modifiers: AccPublic | AccFinal,
		Flags:     ClassValueType,
		Fields:    []FieldDef{{Name: "cents", Descriptor: "J", Modifiers: AccFinal}},
	})
	newMoney := func(cents int64) *Object {
		o := f.vm.NewObject(money)
		o.Field("cents").SetInt64(cents)
		return o
	}
	a, b, c := newMoney(5), newMoney(5), newMoney(7)
	s1, s2 := f.vm.NewString("x"), f.vm.NewString("x")

	tests := []struct {
		name     string
		lhs, rhs *Object
		want     bool
	}{
		{"identical", a, a, true},
		{"substitutable values", a, b, true},
		{"different values", a, c, false},
		{"identity objects", s1, s2, false},
		{"null and value", nil, a, false},
		{"both null", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eq, err := f.invoke(HelperAcmpeq, tt.lhs, tt.rhs)
			if err != nil || eq != tt.want {
				t.Errorf("acmpeq = %v, %v, want %v", eq, err, tt.want)
			}
			ne, err := f.invoke(HelperAcmpne, tt.lhs, tt.rhs)
			if err != nil || ne != !tt.want {
				t.Errorf("acmpne = %v, %v, want %v", ne, err, !tt.want)
			}
		})
	}
}
