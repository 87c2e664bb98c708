package container

import "fmt"

// Option holds a value that may be absent. Nullable engine columns are read into Options.
type Option[T any] struct {
	value T
	valid bool
}

// OptionOf returns Some(v) if valid is true and None otherwise. It pairs with the comma-ok idiom.
func OptionOf[T any](v T, valid bool) Option[T] {
	if !valid {
		return Option[T]{}
	}
	return Option[T]{value: v, valid: true}
}

func Some[T any](v T) Option[T] { return OptionOf(v, true) }
func None[T any]() Option[T]    { return Option[T]{} }

// Get returns the value and whether it is set.
func (opt Option[T]) Get() (T, bool) { return opt.value, opt.valid }

func (opt Option[T]) Set() bool { return opt.valid }

// GetOr returns the value, or alt if it is unset.
func (opt Option[T]) GetOr(alt T) T {
	if !opt.valid {
		return alt
	}
	return opt.value
}

func (opt Option[T]) MustGet() T {
	if !opt.valid {
		panic(fmt.Sprintf("MustGet on unset %T", opt))
	}
	return opt.value
}

// String formats unset options like SQL formats NULL.
func (opt Option[T]) String() string {
	if !opt.valid {
		return "NULL"
	}
	return fmt.Sprint(opt.value)
}
