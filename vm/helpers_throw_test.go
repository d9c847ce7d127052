package vm

import (
	"errors"
	"testing"
)

func TestRuntimeCheckThrows(t *testing.T) {
	tests := []struct {
		id      HelperID
		kind    ExceptionKind
		message string
	}{
		{HelperThrowAbstractMethodError, KindAbstractMethodError, ""},
		{HelperThrowArithmeticException, KindArithmeticException, "/ by zero"},
		{HelperThrowArrayIndexOutOfBounds, KindArrayIndexOutOfBoundsException, ""},
		{HelperThrowArrayStoreException, KindArrayStoreException, ""},
		{HelperThrowExceptionInInitializerError, KindExceptionInInitializerError, ""},
		{HelperThrowIllegalAccessError, KindIllegalAccessError, ""},
		{HelperThrowIncompatibleClassChangeError, KindIncompatibleClassChangeError, ""},
		{HelperThrowInstantiationException, KindInstantiationException, ""},
		{HelperThrowNullPointerException, KindNullPointerException, ""},
		{HelperThrowWrongMethodTypeException, KindWrongMethodTypeException, ""},
		{HelperThrowIdentityException, KindIdentityException, ""},
	}
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.invoke(tt.id)
			e := wantThrow(t, err, tt.kind)
			if e.Message != tt.message {
				t.Errorf("message = %q, want %q", e.Message, tt.message)
			}
			if len(e.StackTrace) != 1 || e.StackTrace[0].Line != 12 {
				t.Errorf("stack trace = %+v, want app/Main.run at line 12", e.StackTrace)
			}
			if f.t.PendingException() != nil {
				t.Error("the thrown exception should be handed to the caller")
			}
			if f.t.StackDepth() != f.md.FrameSize {
				t.Errorf("StackDepth = %d, want %d", f.t.StackDepth(), f.md.FrameSize)
			}
		})
	}
}

func TestThrowException(t *testing.T) {
	f := newFixture(t)
	thrown := NewThrowable(KindArithmeticException, "overflow")

	_, err := f.invoke(HelperThrowException, thrown)
	if err != error(thrown) {
		t.Fatalf("err = %v, want the thrown exception", err)
	}
	if len(thrown.StackTrace) == 0 || thrown.StackTrace[0].MethodName != "run" {
		t.Errorf("stack trace = %+v, want it filled at the throw", thrown.StackTrace)
	}

	_, err = f.invoke(HelperThrowException, (*Throwable)(nil))
	wantThrow(t, err, KindNullPointerException)

	_, err = f.invoke(HelperThrowUnreportedException, thrown)
	if err != error(thrown) {
		t.Errorf("unreported: err = %v, want the thrown exception", err)
	}
}

func TestThrowCurrentException(t *testing.T) {
	f := newFixture(t)
	pending := f.t.SetCurrentException(KindIllegalMonitorStateException, "")
	_, err := f.invoke(HelperThrowCurrentException)
	if err != error(pending) {
		t.Errorf("err = %v, want the pending exception", err)
	}

	_, err = f.invoke(HelperThrowCurrentException)
	wantThrow(t, err, KindInternalError)
}

func TestThrowAtExplicitPC(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoke(HelperThrowArrayStoreExceptionWithIP, mainStart)
	e := wantThrow(t, err, KindArrayStoreException)
	if len(e.StackTrace) == 0 || e.StackTrace[0].Line != 10 {
		t.Errorf("stack trace = %+v, want line 10 from the passed PC", e.StackTrace)
	}
}

func TestThrowIncompatibleReceiver(t *testing.T) {
	f := newFixture(t)
	_, err := f.invoke(HelperThrowIncompatibleReceiver, f.vm.StringClass(), f.main)
	e := wantThrow(t, err, KindIllegalAccessError)
	want := "Receiver class java.lang.String is not assignable to app.Main"
	if e.Message != want {
		t.Errorf("message = %q, want %q", e.Message, want)
	}
}

func TestTrapHandlers(t *testing.T) {
	tests := []struct {
		id      HelperID
		kind    ExceptionKind
		message string
	}{
		{HelperHandleArrayIndexOutOfBoundsTrap, KindArrayIndexOutOfBoundsException, ""},
		{HelperHandleIntegerDivideByZeroTrap, KindArithmeticException, "/ by zero"},
		{HelperHandleNullPointerExceptionTrap, KindNullPointerException, ""},
		{HelperHandleInternalErrorTrap, KindInternalError, "SIGBUS"},
	}
	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			f := newFixture(t)
			// The faulting PC is at line 10, the helper call site at 12.
			f.t.SetJITException(mainStart)
			_, err := f.invoke(tt.id)
			e := wantThrow(t, err, tt.kind)
			if e.Message != tt.message {
				t.Errorf("message = %q, want %q", e.Message, tt.message)
			}
			if len(e.StackTrace) == 0 || e.StackTrace[0].Line != 10 {
				t.Errorf("stack trace = %+v, want the faulting line 10", e.StackTrace)
			}
		})
	}
}

func TestThrowableHierarchy(t *testing.T) {
	tests := []struct {
		kind, parent ExceptionKind
		want         bool
	}{
		{KindNullPointerException, KindRuntimeException, true},
		{KindNullPointerException, KindException, true},
		{KindNullPointerException, KindError, false},
		{KindInstantiationError, KindIncompatibleClassChangeError, true},
		{KindInstantiationError, KindLinkageError, true},
		{KindOutOfMemoryError, KindVirtualMachineError, true},
		{KindInstantiationException, KindRuntimeException, false},
		{KindStackOverflowError, KindThrowable, true},
	}
	for _, tt := range tests {
		e := NewThrowable(tt.kind, "")
		if got := e.IsKindOf(tt.parent); got != tt.want {
			t.Errorf("%s IsKindOf %s = %v, want %v", tt.kind.ClassName(), tt.parent.ClassName(), got, tt.want)
		}
	}
}

func TestThrowableError(t *testing.T) {
	cause := NewThrowable(KindArithmeticException, "/ by zero")
	e := NewThrowable(KindExceptionInInitializerError, "")
	e.Cause = cause

	if e.Error() != "java.lang.ExceptionInInitializerError" {
		t.Errorf("Error() = %q", e.Error())
	}
	if cause.Error() != "java.lang.ArithmeticException: / by zero" {
		t.Errorf("Error() = %q", cause.Error())
	}
	if !errors.Is(e, cause) {
		t.Error("errors.Is should find the cause")
	}
}
