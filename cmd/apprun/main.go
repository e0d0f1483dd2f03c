package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/application"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/schema"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/isolated"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/local"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy/remote"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse flags
	file := flag.String("f", "", "Schema file (yaml, toml or json)")
	name := flag.String("name", "app", "Application name")
	strategyName := flag.String("strategy", local.Name, "Launch strategy: local, isolated or remote")
	consoleKind := flag.String("console", "system", "Console: system or null")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [-f schema] [executable [args...]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Development = cfg.Logging.Development
	log, err := logging.New(logCfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer log.Sync()

	s, err := loadSchema(*file, flag.Args())
	if err != nil {
		log.Error("Invalid schema", zap.Error(err))
		return 2
	}

	strat, err := newStrategy(*strategyName, cfg, log)
	if err != nil {
		log.Error("Invalid strategy", zap.Error(err))
		return 2
	}

	metrics := monitoring.NewMetrics()
	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("Metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	builder := application.NewBuilder(strat,
		application.WithLogger(log),
		application.WithMetrics(metrics),
		application.WithConfig(cfg))
	defer builder.Close()

	var con console.Console
	switch *consoleKind {
	case "system":
		con = console.NewSystem(*name)
	case "null":
		con = console.NewNull(*name)
	default:
		log.Error("Unknown console", zap.String("console", *consoleKind))
		return 2
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	app, err := builder.Realize(ctx, s, *name, con)
	cancel()
	if err != nil {
		log.Error("Failed to realize application", zap.Error(err))
		return 1
	}
	defer app.Destroy()

	select {
	case <-sigChan:
		log.Info("Shutting down")
		return 130
	case <-app.Exited():
		return exitCode(app.ExitErr())
	}
}

func loadSchema(file string, args []string) (*schema.Schema, error) {
	var s *schema.Schema
	if file != "" {
		loaded, err := schema.LoadFile(file)
		if err != nil {
			return nil, err
		}
		s = loaded
	}

	if len(args) > 0 {
		if s == nil {
			s = schema.New(args[0])
		} else {
			s.SetExecutable(args[0])
		}
		if len(args) > 1 {
			s.SetArguments(args[1:]...)
		}
	}

	if s == nil {
		return nil, errors.New("no schema file or executable given")
	}
	return s, nil
}

func newStrategy(name string, cfg *config.Config, log *logging.Logger) (strategy.Strategy, error) {
	switch name {
	case local.Name:
		return local.New(local.WithLogger(log), local.WithKillGrace(cfg.Runtime.KillGrace)), nil
	case isolated.Name:
		return isolated.New(isolated.WithLogger(log), isolated.WithMaxCallStack(cfg.Sandbox.MaxCallStack)), nil
	case remote.Name:
		s, err := remote.FromConfig(cfg.SSH, remote.WithLogger(log), remote.WithKillGrace(cfg.Runtime.KillGrace))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	var sshErr *ssh.ExitError
	if errors.As(err, &sshErr) {
		return sshErr.ExitStatus()
	}
	return 1
}
