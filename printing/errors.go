package printing

import "fmt"

// PrintError is a failed render or spool for one order.
type PrintError struct {
	Method  Method
	Printer string
	Err     error
}

func (e *PrintError) Error() string {
	return fmt.Sprintf("print %s via %s: %v", e.Printer, e.Method, e.Err)
}

func (e *PrintError) Unwrap() error { return e.Err }
