package work

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"
)

// compressThreshold is the payload size above which bodies are compressed.
const compressThreshold = 4 * 1024

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	decoder, _ = zstd.NewReader(nil)
)

// Envelope is a serialized unit of work in transit.
type Envelope struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Payload    []byte `json:"payload,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

func (e Envelope) payload() ([]byte, error) {
	if !e.Compressed {
		return e.Payload, nil
	}
	return decoder.DecodeAll(e.Payload, nil)
}

// Result is the outcome of executing an envelope. Value holds the JSON
// encoding of the returned value; Error is set when execution failed.
type Result struct {
	ID         string `json:"id"`
	Value      []byte `json:"value,omitempty"`
	Error      string `json:"error,omitempty"`
	Compressed bool   `json:"compressed,omitempty"`
}

// Failed reports whether the unit of work raised an error.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Raw returns the JSON encoding of the value.
func (r Result) Raw() ([]byte, error) {
	if !r.Compressed {
		return r.Value, nil
	}
	return decoder.DecodeAll(r.Value, nil)
}

// IsNull reports whether the unit of work returned no value.
func (r Result) IsNull() bool {
	raw, err := r.Raw()
	if err != nil {
		return false
	}
	return len(raw) == 0 || string(raw) == "null"
}

// Decode unmarshals the value into v.
func (r Result) Decode(v any) error {
	raw, err := r.Raw()
	if err != nil {
		return fmt.Errorf("result %s: %w", r.ID, err)
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("result %s: %w", r.ID, err)
	}
	return nil
}

// Execute decodes e with reg and runs it against env. Failures, panics
// included, are reported in the Result and never returned.
func Execute(ctx context.Context, reg *Registry, env Env, e Envelope) Result {
	c, err := reg.Decode(e)
	if err != nil {
		return Result{ID: e.ID, Error: err.Error()}
	}
	return Run(ctx, e.ID, c, env)
}

// Run invokes c directly and packages its outcome.
func Run(ctx context.Context, id string, c Callable, env Env) (res Result) {
	res.ID = id
	defer func() {
		if r := recover(); r != nil {
			res = Result{ID: id, Error: fmt.Sprintf("panic: %v\n%s", r, debug.Stack())}
		}
	}()

	value, err := c.Call(ctx, env)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	raw, err := sonic.Marshal(value)
	if err != nil {
		res.Error = fmt.Sprintf("encode result: %v", err)
		return res
	}
	res.Value, res.Compressed = compress(raw)
	return res
}

func compress(b []byte) ([]byte, bool) {
	if len(b) <= compressThreshold {
		return b, false
	}
	return encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), true
}
