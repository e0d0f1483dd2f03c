package work

import (
	"context"
	"fmt"
)

// Names of the built-in units of work.
const (
	NameGetEnv      = "apprun.getenv"
	NameGetProperty = "apprun.property"
	NameEcho        = "apprun.echo"
	NameArgs        = "apprun.args"
	NameScript      = "apprun.script"
)

// GetEnv reads an environment variable of the running unit. It returns nil
// when the variable is unset.
type GetEnv struct {
	Key string `json:"key"`
}

func (w GetEnv) Call(_ context.Context, env Env) (any, error) {
	if v, ok := env.LookupEnv(w.Key); ok {
		return v, nil
	}
	return nil, nil
}

// GetProperty reads a system property of the running unit. It returns nil
// when the property is not set.
type GetProperty struct {
	Key string `json:"key"`
}

func (w GetProperty) Call(_ context.Context, env Env) (any, error) {
	if v, ok := env.Property(w.Key); ok {
		return v, nil
	}
	return nil, nil
}

// Echo returns its value unchanged.
type Echo struct {
	Value any `json:"value"`
}

func (w Echo) Call(context.Context, Env) (any, error) {
	return w.Value, nil
}

// Args returns the arguments the running unit was started with.
type Args struct{}

func (Args) Call(_ context.Context, env Env) (any, error) {
	return env.Args(), nil
}

// Script evaluates JavaScript inside the running unit. Only units backed by
// a script engine accept it.
type Script struct {
	Source string `json:"source"`
}

func (w Script) Call(ctx context.Context, env Env) (any, error) {
	runner, ok := env.(ScriptRunner)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, NameScript)
	}
	return runner.RunScript(ctx, w.Source)
}

func registerBuiltins(r *Registry) {
	r.MustRegister(NameGetEnv, GetEnv{})
	r.MustRegister(NameGetProperty, GetProperty{})
	r.MustRegister(NameEcho, Echo{})
	r.MustRegister(NameArgs, Args{})
	r.MustRegister(NameScript, Script{})
}
