package args

// Adapter makes a parser function into a command line flag value.
//
// It satisfies both of flag.Value and pflag.Value.
type Adapter[T interface{ String() string }] struct {
	value    T
	parser   func(string) (T, error)
	isSet    bool
	typename string
}

func (i *Adapter[T]) String() string {
	if i.isSet {
		return i.value.String()
	}
	return ""
}

func (i *Adapter[T]) Set(s string) error {
	v, err := i.parser(s)
	if err != nil {
		return err
	}
	i.isSet = true
	i.value = v
	return nil
}

// Type is the name of value type shown in usage.
func (i *Adapter[T]) Type() string {
	if i.typename == "" {
		return "string"
	}
	return i.typename
}

func (i Adapter[T]) Value() T {
	return i.value
}

func (i Adapter[T]) IsSet() bool {
	return i.isSet
}

// Parser creates an Adapter.
//
// args:
//
// - parser: converts a flag value into T.
//
// - defaultValue: (optional) the value before the flag is set. Only the first one is used.
func Parser[T interface{ String() string }](parser func(string) (T, error), defaultValue ...T) *Adapter[T] {
	a := &Adapter[T]{parser: parser}
	if 0 < len(defaultValue) {
		a.value = defaultValue[0]
	}
	return a
}

// Typed sets the name of value type shown in usage.
func (i *Adapter[T]) Typed(name string) *Adapter[T] {
	i.typename = name
	return i
}
