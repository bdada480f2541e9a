// Package try shortens handling of (value, error) pairs in tests and in main.
package try

// Fataler stops the caller, like *testing.T or *logrus.Logger.
type Fataler interface {
	Fatal(...any)
}

// Either holds the result of a call returning (T, error).
//
// It is "ok" when err is nil.
type Either[T any] struct {
	value T
	err   error
}

func To[T any](value T, err error) Either[T] {
	if err != nil {
		return Either[T]{err: err}
	}
	return Either[T]{value: value}
}

// Get returns (value, nil) when ok, otherwise (zero value, error).
func (e Either[T]) Get() (T, error) {
	return e.value, e.err
}

// OrDefault returns the value when ok, otherwise d.
func (e Either[T]) OrDefault(d T) T {
	if e.err != nil {
		return d
	}
	return e.value
}

// OrFatal returns the value when ok. Otherwise it calls ftl.Fatal with the error.
//
// Helper() of ftl, if any, is called before Fatal.
func (e Either[T]) OrFatal(ftl Fataler) T {
	if e.err == nil {
		return e.value
	}
	if h, ok := ftl.(interface{ Helper() }); ok {
		h.Helper()
	}
	ftl.Fatal(e.err)
	return *new(T)
}
