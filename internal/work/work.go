package work

import (
	"context"
	"errors"
)

var (
	ErrUnknownWork = errors.New("unknown unit of work")
	ErrUnsupported = errors.New("unit of work not supported by this runtime")
)

// Env is the view a unit of work has of the running unit it executes in.
type Env interface {
	Getenv(key string) string
	LookupEnv(key string) (string, bool)
	Property(key string) (string, bool)
	Args() []string
}

// Callable is a serializable unit of work. Its exported fields are its only
// inputs; the value it returns must be JSON encodable.
type Callable interface {
	Call(ctx context.Context, env Env) (any, error)
}

// CallableFunc adapts a function to Callable. Functions cannot be
// serialized, so only in-process execution accepts them.
type CallableFunc func(ctx context.Context, env Env) (any, error)

// Call invokes f
func (f CallableFunc) Call(ctx context.Context, env Env) (any, error) {
	return f(ctx, env)
}

// ScriptRunner is implemented by environments able to evaluate JavaScript.
type ScriptRunner interface {
	RunScript(ctx context.Context, source string) (any, error)
}

// StaticEnv is an Env over fixed values.
type StaticEnv struct {
	Vars  map[string]string
	Props map[string]string
	Argv  []string
}

func (e StaticEnv) Getenv(key string) string {
	return e.Vars[key]
}

func (e StaticEnv) LookupEnv(key string) (string, bool) {
	v, ok := e.Vars[key]
	return v, ok
}

func (e StaticEnv) Property(key string) (string, bool) {
	v, ok := e.Props[key]
	return v, ok
}

func (e StaticEnv) Args() []string {
	return append([]string(nil), e.Argv...)
}
