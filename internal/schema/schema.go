package schema

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/lifecycle"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/properties"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
)

var ErrNoExecutable = errors.New("schema has no executable")

// Schema describes how to construct an application. It is built with the
// fluent setters and is not safe for concurrent mutation. Builders work
// from a Snapshot, so changing a Schema never affects an application
// already realized from it.
type Schema struct {
	executable   string
	workingDir   string
	env          *properties.Properties
	props        *properties.Properties
	args         []string
	redirectErr  bool
	inheritEnv   bool
	diagnostics  bool
	timeout      time.Duration
	interceptors []lifecycle.Interceptor
	searchPaths  []searchPath
}

// New creates a schema for executable. The host environment is inherited
// by default.
func New(executable string) *Schema {
	return &Schema{
		executable: executable,
		env:        properties.New(),
		props:      properties.New(),
		inheritEnv: true,
	}
}

// Executable returns the executable name
func (s *Schema) Executable() string { return s.executable }

// SetExecutable replaces the executable.
func (s *Schema) SetExecutable(executable string) *Schema {
	s.executable = executable
	return s
}

// SetArgument appends one argument.
func (s *Schema) SetArgument(arg string) *Schema {
	s.args = append(s.args, arg)
	return s
}

// SetArguments replaces all arguments.
func (s *Schema) SetArguments(args ...string) *Schema {
	s.args = append([]string(nil), args...)
	return s
}

// SetEnvironmentVariable sets an environment variable. Explicit variables
// always win over inherited ones.
func (s *Schema) SetEnvironmentVariable(key, value string) *Schema {
	s.env.Set(key, value)
	return s
}

// SetSystemProperty sets a system property handed to the unit.
func (s *Schema) SetSystemProperty(key, value string) *Schema {
	s.props.Set(key, value)
	return s
}

// SetWorkingDirectory sets the directory the unit starts in. Empty means
// the current directory at realization.
func (s *Schema) SetWorkingDirectory(dir string) *Schema {
	s.workingDir = dir
	return s
}

// SetErrorStreamRedirected merges the error stream into output.
func (s *Schema) SetErrorStreamRedirected(redirect bool) *Schema {
	s.redirectErr = redirect
	return s
}

// SetEnvironmentInherited controls whether the host environment is passed
// on.
func (s *Schema) SetEnvironmentInherited(inherit bool) *Schema {
	s.inheritEnv = inherit
	return s
}

// SetDiagnosticsEnabled echoes captured lines to the log.
func (s *Schema) SetDiagnosticsEnabled(enabled bool) *Schema {
	s.diagnostics = enabled
	return s
}

// SetDefaultTimeout sets the timeout deferred evaluations against the
// application use when none is given. Zero leaves the builder's default.
func (s *Schema) SetDefaultTimeout(d time.Duration) *Schema {
	s.timeout = d
	return s
}

// AddLifecycleInterceptor registers an interceptor. Interceptors run in
// registration order.
func (s *Schema) AddLifecycleInterceptor(i lifecycle.Interceptor) *Schema {
	s.interceptors = append(s.interceptors, i)
	return s
}

// Environment returns the explicitly set variables.
func (s *Schema) Environment() *properties.Properties { return s.env.Clone() }

// SystemProperties returns the system properties.
func (s *Schema) SystemProperties() *properties.Properties { return s.props.Clone() }

// Snapshot captures the schema for realization. It resolves the working
// directory and search paths.
func (s *Schema) Snapshot() (Snapshot, error) {
	if s.executable == "" {
		return Snapshot{}, ErrNoExecutable
	}

	dir := s.workingDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Snapshot{}, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}

	env := s.env.Clone()
	for _, sp := range s.searchPaths {
		value, err := sp.resolve(dir)
		if err != nil {
			return Snapshot{}, err
		}
		if existing, ok := env.Get(sp.envKey); ok && existing != "" {
			value = joinPaths(value, existing)
		}
		env.Set(sp.envKey, value)
	}

	return Snapshot{
		executable:   s.executable,
		workingDir:   dir,
		env:          env,
		props:        s.props.Clone(),
		args:         append([]string(nil), s.args...),
		redirectErr:  s.redirectErr,
		inheritEnv:   s.inheritEnv,
		diagnostics:  s.diagnostics,
		timeout:      s.timeout,
		interceptors: append([]lifecycle.Interceptor(nil), s.interceptors...),
	}, nil
}

// Snapshot is an immutable copy of a Schema.
type Snapshot struct {
	executable   string
	workingDir   string
	env          *properties.Properties
	props        *properties.Properties
	args         []string
	redirectErr  bool
	inheritEnv   bool
	diagnostics  bool
	timeout      time.Duration
	interceptors []lifecycle.Interceptor
}

func (s Snapshot) Executable() string            { return s.executable }
func (s Snapshot) WorkingDirectory() string      { return s.workingDir }
func (s Snapshot) Arguments() []string           { return append([]string(nil), s.args...) }
func (s Snapshot) ErrorStreamRedirected() bool   { return s.redirectErr }
func (s Snapshot) EnvironmentInherited() bool    { return s.inheritEnv }
func (s Snapshot) DiagnosticsEnabled() bool      { return s.diagnostics }
func (s Snapshot) DefaultTimeout() time.Duration { return s.timeout }

// Environment returns the explicit variables, search paths included.
func (s Snapshot) Environment() *properties.Properties { return s.env.Clone() }

// SystemProperties returns the system properties.
func (s Snapshot) SystemProperties() *properties.Properties { return s.props.Clone() }

// Interceptors returns the registered interceptors in order.
func (s Snapshot) Interceptors() []lifecycle.Interceptor {
	return append([]lifecycle.Interceptor(nil), s.interceptors...)
}

// Command resolves the snapshot into a command. When inheritance is on the
// host environment comes first and explicit variables override it.
func (s Snapshot) Command() strategy.Command {
	env := properties.New()
	if s.inheritEnv {
		env.Inherit(properties.FromEnviron(os.Environ()))
	}
	env.Merge(s.env)

	return strategy.Command{
		Executable:  s.executable,
		Args:        s.Arguments(),
		Env:         env.Environ(),
		Explicit:    s.env.Environ(),
		InheritEnv:  s.inheritEnv,
		Dir:         s.workingDir,
		Properties:  s.props.Clone(),
		RedirectErr: s.redirectErr,
	}
}
