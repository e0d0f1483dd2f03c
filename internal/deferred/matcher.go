package deferred

import (
	"fmt"
	"reflect"
	"strings"
)

// Matcher decides whether a probed value is the one being waited for.
type Matcher[T any] interface {
	Matches(v T) bool
	String() string
}

type matcherFunc[T any] struct {
	desc string
	fn   func(T) bool
}

func (m matcherFunc[T]) Matches(v T) bool { return m.fn(v) }
func (m matcherFunc[T]) String() string   { return m.desc }

// Satisfies builds a matcher from a predicate.
func Satisfies[T any](desc string, fn func(T) bool) Matcher[T] {
	return matcherFunc[T]{desc: desc, fn: fn}
}

// Equal matches values deeply equal to want.
func Equal[T any](want T) Matcher[T] {
	return Satisfies(fmt.Sprintf("equal to %#v", want), func(v T) bool {
		return reflect.DeepEqual(v, want)
	})
}

// NotZero matches any value other than the zero value of T.
func NotZero[T any]() Matcher[T] {
	return Satisfies("not zero", func(v T) bool {
		return !reflect.ValueOf(&v).Elem().IsZero()
	})
}

// Contains matches strings containing sub.
func Contains(sub string) Matcher[string] {
	return Satisfies(fmt.Sprintf("containing %q", sub), func(v string) bool {
		return strings.Contains(v, sub)
	})
}

// Any matches every value; the first successful probe resolves.
func Any[T any]() Matcher[T] {
	return Satisfies("anything", func(T) bool { return true })
}
