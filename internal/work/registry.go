package work

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/shared/id"
)

// Registry maps unit-of-work names to their Go types so that both sides of
// a control channel can encode and decode them.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]reflect.Type
	byType map[reflect.Type]string
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry holding the built-ins.
func Default() *Registry {
	return defaultRegistry
}

// NewRegistry creates a registry holding the built-in units of work.
func NewRegistry() *Registry {
	r := &Registry{
		byName: make(map[string]reflect.Type),
		byType: make(map[reflect.Type]string),
	}
	registerBuiltins(r)
	return r
}

// Register records the type of prototype under name.
func (r *Registry) Register(name string, prototype Callable) error {
	if name == "" {
		return fmt.Errorf("work name cannot be empty")
	}
	if prototype == nil {
		return fmt.Errorf("work %s: prototype cannot be nil", name)
	}

	t := reflect.TypeOf(prototype)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() == reflect.Func {
		return fmt.Errorf("work %s: functions cannot be serialized", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[name]; ok && existing != t {
		return fmt.Errorf("work %s already registered as %s", name, existing)
	}
	r.byName[name] = t
	r.byType[t] = name
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name string, prototype Callable) {
	if err := r.Register(name, prototype); err != nil {
		panic(err)
	}
}

// Name returns the registered name of c.
func (r *Registry) Name(c Callable) (string, bool) {
	if c == nil {
		return "", false
	}
	t := reflect.TypeOf(c)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byType[t]
	return name, ok
}

// Encode serializes c into an envelope with a fresh submission id.
func (r *Registry) Encode(c Callable) (Envelope, error) {
	name, ok := r.Name(c)
	if !ok {
		return Envelope{}, fmt.Errorf("%w: %T is not registered", ErrUnknownWork, c)
	}

	payload, err := sonic.Marshal(c)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", name, err)
	}

	env := Envelope{
		ID:   id.NewSubmissionID().String(),
		Name: name,
	}
	env.Payload, env.Compressed = compress(payload)
	return env, nil
}

// Decode reconstructs the unit of work carried by e.
func (r *Registry) Decode(e Envelope) (Callable, error) {
	r.mu.RLock()
	t, ok := r.byName[e.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWork, e.Name)
	}

	payload, err := e.payload()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e.Name, err)
	}

	ptr := reflect.New(t)
	if len(payload) > 0 {
		if err := sonic.Unmarshal(payload, ptr.Interface()); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Name, err)
		}
	}

	if c, ok := ptr.Elem().Interface().(Callable); ok {
		return c, nil
	}
	if c, ok := ptr.Interface().(Callable); ok {
		return c, nil
	}
	return nil, fmt.Errorf("decode %s: %s does not implement Callable", e.Name, t)
}
