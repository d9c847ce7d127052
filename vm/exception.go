package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Exception kinds
// ---------------------------------------------------------------------------

// ExceptionKind identifies a language-level exception class the runtime
// raises on its own.
type ExceptionKind uint8

const (
	KindThrowable ExceptionKind = iota
	KindException
	KindError
	KindRuntimeException
	KindLinkageError
	KindVirtualMachineError

	KindNullPointerException
	KindClassCastException
	KindArrayStoreException
	KindArrayIndexOutOfBoundsException
	KindArithmeticException
	KindNegativeArraySizeException
	KindIllegalMonitorStateException
	KindIdentityException
	KindWrongMethodTypeException
	KindCRIUException
	KindInstantiationException

	KindInstantiationError
	KindIllegalAccessError
	KindIncompatibleClassChangeError
	KindAbstractMethodError
	KindNoSuchFieldError
	KindNoSuchMethodError
	KindNoClassDefFoundError
	KindExceptionInInitializerError
	KindBootstrapMethodError
	KindOutOfMemoryError
	KindStackOverflowError
	KindInternalError

	numExceptionKinds
)

type exceptionClass struct {
	name   string
	parent ExceptionKind
}

// exceptionClasses is indexed by ExceptionKind. The parent links mirror
// the language class hierarchy and drive IsKindOf.
var exceptionClasses = [numExceptionKinds]exceptionClass{
	KindThrowable:           {"java/lang/Throwable", KindThrowable},
	KindException:           {"java/lang/Exception", KindThrowable},
	KindError:               {"java/lang/Error", KindThrowable},
	KindRuntimeException:    {"java/lang/RuntimeException", KindException},
	KindLinkageError:        {"java/lang/LinkageError", KindError},
	KindVirtualMachineError: {"java/lang/VirtualMachineError", KindError},

	KindNullPointerException:           {"java/lang/NullPointerException", KindRuntimeException},
	KindClassCastException:             {"java/lang/ClassCastException", KindRuntimeException},
	KindArrayStoreException:            {"java/lang/ArrayStoreException", KindRuntimeException},
	KindArrayIndexOutOfBoundsException: {"java/lang/ArrayIndexOutOfBoundsException", KindRuntimeException},
	KindArithmeticException:            {"java/lang/ArithmeticException", KindRuntimeException},
	KindNegativeArraySizeException:     {"java/lang/NegativeArraySizeException", KindRuntimeException},
	KindIllegalMonitorStateException:   {"java/lang/IllegalMonitorStateException", KindRuntimeException},
	KindIdentityException:              {"java/lang/IdentityException", KindRuntimeException},
	KindWrongMethodTypeException:       {"java/lang/invoke/WrongMethodTypeException", KindRuntimeException},
	KindCRIUException:                  {"openj9/internal/criu/JVMCRIUException", KindRuntimeException},
	KindInstantiationException:         {"java/lang/InstantiationException", KindException},

	KindInstantiationError:           {"java/lang/InstantiationError", KindIncompatibleClassChangeError},
	KindIllegalAccessError:           {"java/lang/IllegalAccessError", KindIncompatibleClassChangeError},
	KindIncompatibleClassChangeError: {"java/lang/IncompatibleClassChangeError", KindLinkageError},
	KindAbstractMethodError:          {"java/lang/AbstractMethodError", KindIncompatibleClassChangeError},
	KindNoSuchFieldError:             {"java/lang/NoSuchFieldError", KindIncompatibleClassChangeError},
	KindNoSuchMethodError:            {"java/lang/NoSuchMethodError", KindIncompatibleClassChangeError},
	KindNoClassDefFoundError:         {"java/lang/NoClassDefFoundError", KindLinkageError},
	KindExceptionInInitializerError:  {"java/lang/ExceptionInInitializerError", KindLinkageError},
	KindBootstrapMethodError:         {"java/lang/BootstrapMethodError", KindLinkageError},
	KindOutOfMemoryError:             {"java/lang/OutOfMemoryError", KindVirtualMachineError},
	KindStackOverflowError:           {"java/lang/StackOverflowError", KindVirtualMachineError},
	KindInternalError:                {"java/lang/InternalError", KindVirtualMachineError},
}

// ClassName returns the internal class name of the kind.
func (k ExceptionKind) ClassName() string { return exceptionClasses[k].name }

func (k ExceptionKind) String() string {
	return strings.ReplaceAll(exceptionClasses[k].name, "/", ".")
}

// ---------------------------------------------------------------------------
// Message keys
// ---------------------------------------------------------------------------

// MessageKey names a catalogued detail message. Resource-exhaustion
// failures share one exception kind and are told apart by key.
type MessageKey uint8

const (
	MsgNone MessageKey = iota
	MsgHeapSpace
	MsgFailedToAllocateMonitor
	MsgFailedToInduceOSR
	MsgCRIUSingleThreadBlocking
	MsgValueTypeMonitor
	MsgValueBasedMonitor
	MsgIllegalMonitorState
	MsgDivideByZero
)

var messageCatalog = [...]string{
	MsgNone:                     "",
	MsgHeapSpace:                "Java heap space",
	MsgFailedToAllocateMonitor:  "Failed to allocate monitor",
	MsgFailedToInduceOSR:        "Failed to induce OSR",
	MsgCRIUSingleThreadBlocking: "Blocking operation is not allowed in CRIU single thread mode.",
	MsgValueTypeMonitor:         "Cannot synchronize on an instance of value class %s",
	MsgValueBasedMonitor:        "Cannot synchronize on an instance of value-based class %s",
	MsgIllegalMonitorState:      "current thread is not owner",
	MsgDivideByZero:             "/ by zero",
}

// Text formats the message with args.
func (k MessageKey) Text(args ...any) string {
	if len(args) == 0 {
		return messageCatalog[k]
	}
	return fmt.Sprintf(messageCatalog[k], args...)
}

// ---------------------------------------------------------------------------
// Throwable
// ---------------------------------------------------------------------------

// StackTraceElement is one captured frame of a Throwable.
type StackTraceElement struct {
	ClassName  string
	MethodName string
	FileName   string
	Line       int
	Native     bool
}

// Throwable is a constructed language-level exception. It implements
// error so it can travel out of the trampoline; the runtime itself keeps
// it as the thread's pending exception.
type Throwable struct {
	Kind       ExceptionKind
	ClassName  string // set when the class is not one of the runtime kinds
	Message    string
	Key        MessageKey
	Cause      *Throwable
	StackTrace []StackTraceElement
}

// NewThrowable creates an exception of a runtime kind.
func NewThrowable(kind ExceptionKind, message string) *Throwable {
	return &Throwable{Kind: kind, ClassName: kind.ClassName(), Message: message}
}

// NewUserThrowable creates an exception of an application class. parent
// is the closest runtime kind it derives from.
func NewUserThrowable(className string, parent ExceptionKind, message string) *Throwable {
	return &Throwable{Kind: parent, ClassName: className, Message: message}
}

// JavaClassName returns the dotted class name.
func (e *Throwable) JavaClassName() string {
	return strings.ReplaceAll(e.ClassName, "/", ".")
}

// IsKindOf reports whether the exception is an instance of kind.
func (e *Throwable) IsKindOf(kind ExceptionKind) bool {
	for k := e.Kind; ; k = exceptionClasses[k].parent {
		if k == kind {
			return true
		}
		if k == KindThrowable {
			return false
		}
	}
}

func (e *Throwable) Error() string {
	if e.Message == "" {
		return e.JavaClassName()
	}
	return e.JavaClassName() + ": " + e.Message
}

// Unwrap exposes the cause chain to errors.Is and errors.As.
func (e *Throwable) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// ---------------------------------------------------------------------------
// Raising on the current thread
// ---------------------------------------------------------------------------

// SetCurrentException constructs an exception of kind, captures the stack
// trace and makes it the thread's pending exception.
func (t *Thread) SetCurrentException(kind ExceptionKind, message string) *Throwable {
	e := NewThrowable(kind, message)
	t.SetPendingException(e)
	return e
}

// SetCurrentExceptionKey raises kind with a catalogued message.
func (t *Thread) SetCurrentExceptionKey(kind ExceptionKind, key MessageKey, args ...any) *Throwable {
	e := NewThrowable(kind, key.Text(args...))
	e.Key = key
	t.SetPendingException(e)
	return e
}

// SetPendingException makes e the pending exception, capturing the stack
// trace if it has none yet.
func (t *Thread) SetPendingException(e *Throwable) {
	if e.StackTrace == nil {
		e.StackTrace = t.captureStackTrace()
	}
	t.currentException = e
}

// SetClassCastException raises a ClassCastException naming both classes.
func (t *Thread) SetClassCastException(instance, cast *Class) *Throwable {
	return t.SetCurrentException(KindClassCastException,
		fmt.Sprintf("class %s cannot be cast to class %s", instance.JavaName(), cast.JavaName()))
}

// SetArrayStoreException raises an ArrayStoreException for storing an
// instance of value into an array of class array.
func (t *Thread) SetArrayStoreException(value, array *Class) *Throwable {
	return t.SetCurrentException(KindArrayStoreException,
		fmt.Sprintf("%s cannot be stored in an array of type %s", value.JavaName(), array.JavaName()))
}

// SetNegativeArraySizeException raises NegativeArraySizeException.
func (t *Thread) SetNegativeArraySizeException(size int32) *Throwable {
	return t.SetCurrentException(KindNegativeArraySizeException, fmt.Sprintf("%d", size))
}

// SetArrayIndexOutOfBounds raises ArrayIndexOutOfBoundsException.
func (t *Thread) SetArrayIndexOutOfBounds(index, length int32) *Throwable {
	return t.SetCurrentException(KindArrayIndexOutOfBoundsException,
		fmt.Sprintf("Index %d out of bounds for length %d", index, length))
}

// SetHeapOutOfMemoryError raises the heap flavor of OutOfMemoryError.
func (t *Thread) SetHeapOutOfMemoryError() *Throwable {
	return t.SetCurrentExceptionKey(KindOutOfMemoryError, MsgHeapSpace)
}

// SetNativeOutOfMemoryError raises a native-resource OutOfMemoryError.
func (t *Thread) SetNativeOutOfMemoryError(key MessageKey) *Throwable {
	return t.SetCurrentExceptionKey(KindOutOfMemoryError, key)
}

// SetIllegalMonitorState raises IllegalMonitorStateException.
func (t *Thread) SetIllegalMonitorState() *Throwable {
	return t.SetCurrentExceptionKey(KindIllegalMonitorStateException, MsgIllegalMonitorState)
}

// PendingException returns the pending exception, or nil.
func (t *Thread) PendingException() *Throwable { return t.currentException }

// ClearPendingException removes and returns the pending exception.
func (t *Thread) ClearPendingException() *Throwable {
	e := t.currentException
	t.currentException = nil
	return e
}

// captureStackTrace walks the visible compiled frames.
func (t *Thread) captureStackTrace() []StackTraceElement {
	trace := []StackTraceElement{}
	t.WalkStack(func(f *WalkedFrame) bool {
		if f.Kind != FrameCompiled || f.Method == nil {
			return true
		}
		trace = append(trace, StackTraceElement{
			ClassName:  f.Method.Class.Name,
			MethodName: f.Method.Name,
			FileName:   f.Method.Class.SourceFile,
			Line:       f.Line,
			Native:     f.Method.IsNative(),
		})
		return true
	})
	return trace
}
