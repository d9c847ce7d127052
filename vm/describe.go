package vm

import (
	"fmt"
	"io"
	"strings"
)

// ExceptionDescribe clears t's pending exception and prints it to w with
// its captured stack trace. An ExceptionInInitializerError is followed by
// the exception that failed the initializer. It does nothing when no
// exception is pending.
func ExceptionDescribe(w io.Writer, t *Thread) error {
	e := t.ClearPendingException()
	if e == nil {
		return nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Exception in thread %q ", t.Name)
	for prefix := ""; e != nil; prefix = "Caused by: " {
		b.WriteString(prefix)
		b.WriteString(e.Error())
		b.WriteByte('\n')
		for _, el := range e.StackTrace {
			b.WriteString(el.String())
		}
		if e.Kind != KindExceptionInInitializerError {
			break
		}
		e = e.Cause
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// String formats the element as one line of a printed stack trace.
func (el StackTraceElement) String() string {
	class := strings.ReplaceAll(el.ClassName, "/", ".")
	var where string
	switch {
	case el.Native:
		where = "NativeMethod"
	case el.FileName == "":
		where = "Unknown Source"
	case el.Line > 0:
		where = fmt.Sprintf("%s:%d", el.FileName, el.Line)
	default:
		where = el.FileName
	}
	return fmt.Sprintf("\tat %s.%s (%s)\n", class, el.MethodName, where)
}
