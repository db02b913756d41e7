package codegen

import (
	"errors"
	"fmt"
)

// ErrCompile is wrapped by every error reported against the script itself.
var ErrCompile = errors.New("compile error")

// CompileError locates a problem in the script.
type CompileError struct {
	Line int
	Msg  string
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func (e *CompileError) Unwrap() error { return ErrCompile }

// Errorf returns a CompileError for line.
func Errorf(line int, format string, args ...any) error {
	return &CompileError{Line: line, Msg: fmt.Sprintf(format, args...)}
}
