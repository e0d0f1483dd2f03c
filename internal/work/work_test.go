package work

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sum struct {
	Values []int `json:"values"`
}

func (s sum) Call(context.Context, Env) (any, error) {
	total := 0
	for _, v := range s.Values {
		total += v
	}
	return total, nil
}

type failing struct{}

func (failing) Call(context.Context, Env) (any, error) {
	return nil, errors.New("boom")
}

type panicking struct{}

func (*panicking) Call(context.Context, Env) (any, error) {
	panic("kaboom")
}

func testEnv() StaticEnv {
	return StaticEnv{
		Vars:  map[string]string{"HOME": "/home/test"},
		Props: map[string]string{"token": "abc"},
		Argv:  []string{"arg1", "arg2"},
	}
}

func TestEncodeExecuteDecode(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("test.sum", sum{}))

	env, err := reg.Encode(sum{Values: []int{1, 2, 3}})
	require.NoError(t, err)
	assert.Equal(t, "test.sum", env.Name)
	assert.NotEmpty(t, env.ID)

	res := Execute(context.Background(), reg, testEnv(), env)
	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, env.ID, res.ID)

	var total int
	require.NoError(t, res.Decode(&total))
	assert.Equal(t, 6, total)
}

func TestBuiltins(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	tests := []struct {
		name string
		work Callable
		want any
		null bool
	}{
		{name: "getenv", work: GetEnv{Key: "HOME"}, want: "/home/test"},
		{name: "getenv missing", work: GetEnv{Key: "NOPE"}, null: true},
		{name: "property", work: GetProperty{Key: "token"}, want: "abc"},
		{name: "property missing", work: GetProperty{Key: "other"}, null: true},
		{name: "echo", work: Echo{Value: "hi"}, want: "hi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := reg.Encode(tt.work)
			require.NoError(t, err)

			res := Execute(ctx, reg, testEnv(), env)
			require.False(t, res.Failed(), res.Error)
			if tt.null {
				assert.True(t, res.IsNull())
				return
			}

			var got string
			require.NoError(t, res.Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArgsBuiltin(t *testing.T) {
	reg := NewRegistry()
	env, err := reg.Encode(Args{})
	require.NoError(t, err)

	var args []string
	require.NoError(t, Execute(context.Background(), reg, testEnv(), env).Decode(&args))
	assert.Equal(t, []string{"arg1", "arg2"}, args)
}

func TestScriptRequiresRunner(t *testing.T) {
	res := Run(context.Background(), "s1", Script{Source: "1+1"}, testEnv())
	assert.True(t, res.Failed())
	assert.Contains(t, res.Error, "not supported")
}

func TestFailuresAreReported(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("test.fail", failing{}))
	require.NoError(t, reg.Register("test.panic", &panicking{}))

	env, err := reg.Encode(failing{})
	require.NoError(t, err)
	res := Execute(context.Background(), reg, testEnv(), env)
	assert.Equal(t, "boom", res.Error)

	env, err = reg.Encode(&panicking{})
	require.NoError(t, err)
	res = Execute(context.Background(), reg, testEnv(), env)
	assert.True(t, strings.HasPrefix(res.Error, "panic: kaboom"))
}

func TestUnknownWork(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Encode(sum{})
	assert.ErrorIs(t, err, ErrUnknownWork)

	_, err = reg.Decode(Envelope{ID: "x", Name: "missing"})
	assert.ErrorIs(t, err, ErrUnknownWork)
}

func TestRegisterRejectsConflicts(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("test.sum", sum{}))
	require.NoError(t, reg.Register("test.sum", sum{}))
	assert.Error(t, reg.Register("test.sum", failing{}))
	assert.Error(t, reg.Register("", sum{}))
	assert.Error(t, reg.Register("fn", CallableFunc(func(context.Context, Env) (any, error) { return nil, nil })))
}

func TestLargePayloadsAreCompressed(t *testing.T) {
	reg := NewRegistry()
	big := strings.Repeat("x", 3*compressThreshold)

	env, err := reg.Encode(Echo{Value: big})
	require.NoError(t, err)
	assert.True(t, env.Compressed)
	assert.Less(t, len(env.Payload), len(big))

	res := Execute(context.Background(), reg, testEnv(), env)
	require.False(t, res.Failed(), res.Error)
	assert.True(t, res.Compressed)

	var got string
	require.NoError(t, res.Decode(&got))
	assert.Equal(t, big, got)
}
