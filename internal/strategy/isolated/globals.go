package isolated

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dop251/goja"
)

// setupGlobals installs process, console and System, and removes module
// loading.
func (u *unit) setupGlobals() error {
	vm := u.vm

	for _, name := range []string{"require", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	process := vm.NewObject()
	env := vm.NewObject()
	for k, v := range u.env {
		env.Set(k, v)
	}
	stdin := vm.NewObject()
	stdin.Set("readLine", u.readLine)

	process.Set("pid", u.id)
	argv := make([]any, len(u.args))
	for i, a := range u.args {
		argv[i] = a
	}
	process.Set("argv", argv)
	process.Set("env", env)
	process.Set("stdin", stdin)
	process.Set("exit", func(call goja.FunctionCall) goja.Value {
		u.exit(int(call.Argument(0).ToInteger()))
		return goja.Undefined()
	})
	process.Set("sleep", u.sleep)
	if err := vm.Set("process", process); err != nil {
		return err
	}

	con := vm.NewObject()
	con.Set("log", u.makeConsoleFunc(u.stdoutW))
	con.Set("info", u.makeConsoleFunc(u.stdoutW))
	con.Set("warn", u.makeConsoleFunc(u.errOut))
	con.Set("error", u.makeConsoleFunc(u.errOut))
	if err := vm.Set("console", con); err != nil {
		return err
	}

	system := vm.NewObject()
	system.Set("getProperty", func(call goja.FunctionCall) goja.Value {
		if v, ok := u.props.Get(call.Argument(0).String()); ok {
			return vm.ToValue(v)
		}
		if def := call.Argument(1); !goja.IsUndefined(def) {
			return def
		}
		return goja.Null()
	})
	system.Set("setProperty", func(call goja.FunctionCall) goja.Value {
		key := call.Argument(0).String()
		prev, had := u.props.Get(key)
		u.props.Set(key, call.Argument(1).String())
		if had {
			return vm.ToValue(prev)
		}
		return goja.Null()
	})
	return vm.Set("System", system)
}

// makeConsoleFunc writes its arguments, space separated, as one line.
func (u *unit) makeConsoleFunc(w io.Writer) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		fmt.Fprintln(w, strings.Join(parts, " "))
		return goja.Undefined()
	}
}

// sleep blocks the script for the given milliseconds while still serving
// submitted work.
func (u *unit) sleep(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToInteger()) * time.Millisecond
	timer := time.NewTimer(d)
	defer timer.Stop()

	if !u.serve(timer.C) {
		if u.hasExited() {
			u.mu.Lock()
			code := u.exitCode
			u.mu.Unlock()
			u.vm.Interrupt(exitSignal{code: code})
		} else {
			u.vm.Interrupt(ErrTerminated)
		}
	}
	return goja.Undefined()
}

// readLine returns the next line of standard input, or null at its end.
func (u *unit) readLine(goja.FunctionCall) goja.Value {
	line, err := u.input.ReadString('\n')
	if err != nil && line == "" {
		return goja.Null()
	}
	return u.vm.ToValue(strings.TrimRight(line, "\r\n"))
}
