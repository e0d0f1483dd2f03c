package application

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/agent"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/deferred"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/schema"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/isolated"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/local"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/work"
)

const helperEnv = "APPRUN_TEST_HELPER"

// The test binary doubles as the realized application.
func TestMain(m *testing.M) {
	if os.Getenv(helperEnv) == "1" {
		os.Exit(helper())
	}
	os.Exit(m.Run())
}

func helper() int {
	fmt.Println(strings.Join(os.Args[1:], ","))
	fmt.Println(os.Getpid())
	if v, ok := agent.Property("greeting"); ok {
		fmt.Println(v)
	}
	if err := agent.Serve(context.Background(), work.Default()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func helperSchema() *schema.Schema {
	return schema.New(os.Args[0]).
		SetArguments("arg1", "arg2").
		SetEnvironmentVariable(helperEnv, "1").
		SetSystemProperty("greeting", "hello")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Runtime.DefaultTimeout = 10 * time.Second
	cfg.Runtime.PollInterval = 20 * time.Millisecond
	return cfg
}

func realize(t *testing.T, b *Builder, s *schema.Schema, con console.Console) *Application {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	app, err := b.Realize(ctx, s, "helper", con)
	require.NoError(t, err)
	t.Cleanup(app.Destroy)
	return app
}

func localBuilder(t *testing.T, opts ...Option) *Builder {
	t.Helper()
	b := NewBuilder(local.New(), append([]Option{WithConfig(testConfig())}, opts...)...)
	t.Cleanup(func() { b.Close() })
	return b
}

func readLine(t *testing.T, c *console.Piped) string {
	t.Helper()
	line, err := c.ReadLineTimeout(10 * time.Second)
	require.NoError(t, err)
	return line
}

func TestRealizeLocalProcess(t *testing.T) {
	con := console.NewPiped("out")
	app := realize(t, localBuilder(t), helperSchema(), con)

	assert.Equal(t, StateRunning, app.State())
	assert.Contains(t, readLine(t, con), "arg1,arg2")
	assert.Equal(t, strconv.FormatInt(app.ID(), 10), readLine(t, con))
	assert.Equal(t, "hello", readLine(t, con))
	assert.Equal(t, "helper:"+strconv.FormatInt(app.ID(), 10), app.String())
}

func TestEventuallyReadsProperty(t *testing.T) {
	want := uuid.NewString()
	app := realize(t, localBuilder(t), helperSchema().SetSystemProperty("uuid", want), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := Eventually(ctx, app, work.GetProperty{Key: "uuid"}, deferred.Equal(want), deferred.WithTimeout(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSubmitReturnsResult(t *testing.T) {
	app := realize(t, localBuilder(t), helperSchema(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	f, err := app.Submit(ctx, work.Args{})
	require.NoError(t, err)

	var args []string
	require.NoError(t, f.Decode(ctx, &args))
	assert.Equal(t, []string{"arg1", "arg2"}, args)
}

func TestEventuallyTimesOut(t *testing.T) {
	app := realize(t, localBuilder(t), helperSchema(), nil)

	_, err := Eventually(context.Background(), app, work.GetProperty{Key: "missing"}, deferred.NotZero[string](),
		deferred.WithTimeout(300*time.Millisecond))

	var timeout *DeferredTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.GreaterOrEqual(t, timeout.Attempts, 1)
}

func TestDestroyIsIdempotent(t *testing.T) {
	rec := &lifecycle.Recorder{}
	app := realize(t, localBuilder(t), helperSchema().AddLifecycleInterceptor(rec), nil)

	app.Destroy()
	app.Destroy()
	require.NoError(t, app.Close())

	assert.Equal(t, StateDestroyed, app.State())
	assert.Equal(t, 1, rec.Count(lifecycle.Realized))
	assert.Equal(t, 1, rec.Count(lifecycle.Destroyed))

	select {
	case <-app.Exited():
	default:
		t.Fatal("unit still running after destroy")
	}

	_, err := app.Submit(context.Background(), work.Args{})
	var subErr *SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestDestroyInterruptsEventually(t *testing.T) {
	app := realize(t, localBuilder(t), helperSchema(), nil)

	result := make(chan error, 1)
	go func() {
		_, err := Eventually(context.Background(), app, work.GetProperty{Key: "missing"}, deferred.NotZero[string](),
			deferred.WithTimeout(time.Minute))
		result <- err
	}()

	time.Sleep(200 * time.Millisecond)
	app.Destroy()

	select {
	case err := <-result:
		var destroyed *ApplicationDestroyedError
		assert.ErrorAs(t, err, &destroyed)
	case <-time.After(10 * time.Second):
		t.Fatal("evaluation outlived the application")
	}
}

func TestRealizeWithoutExecutable(t *testing.T) {
	b := localBuilder(t)
	_, err := b.Realize(context.Background(), schema.New(""), "empty", nil)

	var realizeErr *RealizationError
	require.ErrorAs(t, err, &realizeErr)
	assert.ErrorIs(t, err, schema.ErrNoExecutable)
	assert.Equal(t, local.Name, realizeErr.Strategy)
}

type mockStrategy struct {
	mock.Mock
}

func (m *mockStrategy) Name() string { return "mock" }

func (m *mockStrategy) Spawn(ctx context.Context, cmd strategy.Command, opts strategy.Options) (strategy.Unit, error) {
	args := m.Called(ctx, cmd, opts)
	unit, _ := args.Get(0).(strategy.Unit)
	return unit, args.Error(1)
}

func TestSpawnFailureIsRealizationError(t *testing.T) {
	boom := errors.New("boom")
	s := &mockStrategy{}
	s.On("Spawn", mock.Anything, mock.MatchedBy(func(cmd strategy.Command) bool {
		return cmd.Executable == "missing-binary"
	}), mock.Anything).Return(nil, boom)

	b := NewBuilder(s, WithConfig(testConfig()))
	t.Cleanup(func() { b.Close() })

	_, err := b.Realize(context.Background(), schema.New("missing-binary"), "broken", nil)

	var realizeErr *RealizationError
	require.ErrorAs(t, err, &realizeErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "broken", realizeErr.Name)
	s.AssertExpectations(t)
}

func isolatedBuilder(t *testing.T, s *isolated.Strategy, opts ...Option) *Builder {
	t.Helper()
	b := NewBuilder(s, append([]Option{WithConfig(testConfig())}, opts...)...)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestIsolatedApplication(t *testing.T) {
	s := isolated.New(isolated.WithScript("main", `console.log(process.argv.join(","));`))
	con := console.NewPiped("out")
	app := realize(t, isolatedBuilder(t, s), schema.New("main").SetArguments("a", "b").SetSystemProperty("mode", "sandbox"), con)

	assert.Equal(t, "a,b", readLine(t, con))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got, err := Eventually(ctx, app, work.GetProperty{Key: "mode"}, deferred.Equal("sandbox"))
	require.NoError(t, err)
	assert.Equal(t, "sandbox", got)
}

func TestInterceptorPanicBecomesWarning(t *testing.T) {
	s := isolated.New(isolated.WithScript("main", `console.log("up");`))
	sch := schema.New("main").AddLifecycleInterceptor(lifecycle.InterceptorFunc(func(e lifecycle.Event) error {
		if e.Kind == lifecycle.Realized {
			panic("interceptor exploded")
		}
		return nil
	}))

	app := realize(t, isolatedBuilder(t, s), sch, nil)

	assert.Equal(t, StateRunning, app.State())
	require.Len(t, app.Warnings(), 1)
	assert.Contains(t, app.Warnings()[0].Error(), "interceptor exploded")
}

func TestFailedWorkIsExecutionError(t *testing.T) {
	s := isolated.New(isolated.WithScript("main", ``))
	app := realize(t, isolatedBuilder(t, s), schema.New("main"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := app.Submit(ctx, work.Script{Source: `throw new Error("nope")`})
	require.NoError(t, err)

	_, err = f.Get(ctx)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Message, "nope")
	assert.Equal(t, f.ID(), execErr.SubmissionID)
}

func TestNullConsoleByDefault(t *testing.T) {
	s := isolated.New(isolated.WithScript("main", `console.log("discarded");`))
	app := realize(t, isolatedBuilder(t, s), schema.New("main"), nil)

	assert.Equal(t, "helper", app.Console().Name())
}

func TestConcurrentRealizationsAreIndependent(t *testing.T) {
	const n = 8
	b := localBuilder(t)

	apps := make([]*Application, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			s := helperSchema().SetSystemProperty("index", strconv.Itoa(i))
			app, err := b.Realize(ctx, s, "helper-"+strconv.Itoa(i), nil)
			if err != nil {
				errs[i] = err
				return
			}
			apps[i] = app

			got, err := Eventually(ctx, app, work.GetProperty{Key: "index"}, deferred.Equal(strconv.Itoa(i)))
			if err == nil && got != strconv.Itoa(i) {
				err = fmt.Errorf("application %d saw index %q", i, got)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	ids := make(map[int64]bool)
	for i, app := range apps {
		require.NoError(t, errs[i])
		require.NotNil(t, app)
		ids[app.ID()] = true
	}
	assert.Len(t, ids, n)

	for _, app := range apps {
		wg.Add(1)
		go func(app *Application) {
			defer wg.Done()
			go app.Destroy()
			app.Destroy()
		}(app)
	}
	wg.Wait()

	for _, app := range apps {
		assert.Equal(t, StateDestroyed, app.State())
	}
}

func TestDestroyRecordsStuckEvaluation(t *testing.T) {
	cfg := testConfig()
	cfg.Runtime.DrainTimeout = 200 * time.Millisecond

	s := isolated.New(isolated.WithScript("main", ``))
	b := NewBuilder(s, WithConfig(cfg))
	t.Cleanup(func() { b.Close() })
	app := realize(t, b, schema.New("main"), nil)

	started := make(chan struct{})
	release := make(chan struct{})
	stuck := func(context.Context) (string, error) {
		close(started)
		<-release
		return "late", nil
	}

	result := make(chan error, 1)
	go func() {
		_, err := Await(context.Background(), app, stuck, deferred.Any[string]())
		result <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation never started")
	}

	app.Destroy()
	close(release)

	warnings := app.Warnings()
	require.Len(t, warnings, 1)
	assert.ErrorIs(t, warnings[0], ErrEvaluationsRunning)

	select {
	case err := <-result:
		var destroyed *ApplicationDestroyedError
		assert.ErrorAs(t, err, &destroyed)
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation did not finish")
	}
}
