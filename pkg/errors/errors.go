// Error wrapper which remembers where it is created.
//
// Usage:
//
// ```
// wrapped := xe.Wrap(err)
// ```
//
// `wrapped` knows filename, line, and the name of function where itself is created.
// Read its message with
//
//	s/<-/\n/
//
// and it gives you "stacks" of the marked locations.
//
// This package also declares sentinels shared by the controller components.
// Test them with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

var (
	// ErrMissing is returned when a run, pod or archived record is not found.
	ErrMissing = errors.New("missing")

	// ErrConflict is returned when a write lost against another writer,
	// e.g. a compare-and-swap or a pod name collision.
	ErrConflict = errors.New("conflict")

	// ErrInvalid is returned when stored data can not be interpreted.
	ErrInvalid = errors.New("invalid")
)

type ErrWithCaller struct {
	file     string
	line     int
	funcname string
	note     string
	err      error
}

func (e *ErrWithCaller) File() string {
	return e.file
}

func (e *ErrWithCaller) Line() int {
	return e.line
}

func (e *ErrWithCaller) Func() string {
	return e.funcname
}

func (e *ErrWithCaller) Error() string {
	if e.note == "" {
		return fmt.Sprintf(`@ %s "%s" l%d <- %s`, e.funcname, e.file, e.line, e.err.Error())
	}
	return fmt.Sprintf(`@ %s "%s" l%d (%s) <- %s`, e.funcname, e.file, e.line, e.note, e.err.Error())
}

func (e *ErrWithCaller) Unwrap() error {
	return e.err
}

func New(text string) error {
	return wrap("", errors.New(text), 1)
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return wrap("", err, 1)
}

func WrapWithNote(note string, err error) error {
	if err == nil {
		return nil
	}
	return wrap(note, err, 1)
}

// Missingf builds an error which satisfies errors.Is(err, ErrMissing).
func Missingf(format string, args ...any) error {
	return wrap(fmt.Sprintf(format, args...), ErrMissing, 1)
}

// Invalidf builds an error which satisfies errors.Is(err, ErrInvalid).
func Invalidf(format string, args ...any) error {
	return wrap(fmt.Sprintf(format, args...), ErrInvalid, 1)
}

func wrap(note string, err error, depth int) error {
	pc, file, line, ok := runtime.Caller(depth + 1)
	funcname := "(unknown func)"
	if !ok {
		file = "?"
		line = -1
	}
	if fn := runtime.FuncForPC(pc); fn != nil {
		funcname = fn.Name()
	}

	return &ErrWithCaller{
		funcname: funcname,
		file:     file,
		line:     line,
		note:     note,
		err:      err,
	}
}
