package workdiv

import "fmt"

// AssertionError is the panic value raised by Assert. Kernels treat a failed
// assertion as fatal for the whole launch; Team.Run re-raises it to the
// caller unchanged.
type AssertionError struct {
	Msg string
}

func (e *AssertionError) Error() string {
	return "assertion failed: " + e.Msg
}

// Assert panics with an *AssertionError when cond is false.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(&AssertionError{Msg: fmt.Sprintf(format, args...)})
	}
}
