package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/GriffinCanCode/AgentOS/apprun/internal/console"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/apprun/internal/strategy"
)

// Name identifies the strategy in logs and metrics.
const Name = "remote"

const (
	defaultDialTimeout = 10 * time.Second
	defaultKillGrace   = 2 * time.Second
	maxPIDLine         = 32
)

// Strategy starts units on another host over SSH. Each unit gets its own
// connection; its identity is the remote process id.
type Strategy struct {
	addr        string
	config      *ssh.ClientConfig
	dialTimeout time.Duration
	killGrace   time.Duration
	guard       *guard
	log         *logging.Logger
}

// Option configures a Strategy.
type Option func(*Strategy)

// WithLogger sets the logger.
func WithLogger(log *logging.Logger) Option {
	return func(s *Strategy) { s.log = log }
}

// WithDialTimeout bounds connection setup.
func WithDialTimeout(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.dialTimeout = d
		}
	}
}

// WithKillGrace sets how long Terminate waits after SIGTERM before SIGKILL.
func WithKillGrace(d time.Duration) Option {
	return func(s *Strategy) {
		if d > 0 {
			s.killGrace = d
		}
	}
}

// WithBreaker stops dialing after threshold consecutive failures until
// cooldown has passed.
func WithBreaker(threshold uint32, cooldown time.Duration) Option {
	return func(s *Strategy) { s.guard = newGuard(threshold, cooldown) }
}

// New creates a remote strategy for the host at addr ("host:port").
func New(addr string, cfg *ssh.ClientConfig, opts ...Option) *Strategy {
	s := &Strategy{
		addr:        addr,
		config:      cfg,
		dialTimeout: defaultDialTimeout,
		killGrace:   defaultKillGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.guard == nil {
		s.guard = newGuard(0, 0)
	}
	s.log = logging.OrNop(s.log).Named(Name).With(zap.String("host", addr))
	s.guard.onChange = func(from, to circuit) {
		s.log.Warn("Remote host circuit changed",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
	}
	return s
}

// FromConfig builds a strategy from the SSH settings, authenticating with
// the private key file and verifying host keys against known_hosts.
func FromConfig(cfg config.SSHConfig, opts ...Option) (*Strategy, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host is required")
	}

	addr := cfg.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}

	key, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key: %w", err)
	}

	if cfg.KnownHosts == "" {
		return nil, errors.New("ssh known_hosts file is required")
	}
	hostKeys, err := knownhosts.New(cfg.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}

	user := cfg.User
	if user == "" {
		user = os.Getenv("USER")
	}

	clientConfig := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.DialTimeout,
	}

	opts = append([]Option{
		WithDialTimeout(cfg.DialTimeout),
		WithBreaker(cfg.FailureThreshold, cfg.Cooldown),
	}, opts...)
	return New(addr, clientConfig, opts...), nil
}

// Name returns the strategy name
func (s *Strategy) Name() string { return Name }

// Spawn runs cmd on the remote host through a launcher that reports the
// process id before exec'ing the executable.
func (s *Strategy) Spawn(ctx context.Context, cmd strategy.Command, opts strategy.Options) (strategy.Unit, error) {
	if cmd.Executable == "" {
		return nil, s.spawnError(cmd, errors.New("executable is required"))
	}

	var client *ssh.Client
	err := s.guard.do(func() error {
		var err error
		client, err = s.dial(ctx)
		return err
	})
	if err != nil {
		return nil, s.spawnError(cmd, err)
	}

	u, err := s.start(ctx, client, cmd, opts)
	if err != nil {
		client.Close()
		return nil, s.spawnError(cmd, err)
	}

	s.log.Debug("Remote process started",
		zap.Int64("pid", u.pid),
		zap.String("executable", cmd.Executable),
		zap.Strings("args", cmd.Args))
	return u, nil
}

func (s *Strategy) dial(ctx context.Context) (*ssh.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, s.addr, s.config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func (s *Strategy) start(ctx context.Context, client *ssh.Client, cmd strategy.Command, opts strategy.Options) (*process, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, err
	}

	var stderr io.Reader
	redirect := cmd.RedirectErr || opts.Terminal
	if !redirect {
		if stderr, err = session.StderrPipe(); err != nil {
			return nil, err
		}
	}

	if opts.Terminal {
		cols, rows := int(opts.Cols), int(opts.Rows)
		if cols == 0 {
			cols = 80
		}
		if rows == 0 {
			rows = 24
		}
		if err := session.RequestPty("xterm-256color", rows, cols, ssh.TerminalModes{ssh.ECHO: 0}); err != nil {
			return nil, fmt.Errorf("request pty: %w", err)
		}
	}

	if err := session.Start(launcher(cmd, redirect)); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	pid, err := readPID(ctx, stdout, session)
	if err != nil {
		return nil, err
	}

	p := &process{
		pid:       pid,
		client:    client,
		session:   session,
		killGrace: s.killGrace,
		log:       s.log.With(zap.Int64("pid", pid)),
		done:      make(chan struct{}),
	}
	p.streams = console.Streams{
		Stdin:  stdin,
		Stdout: &sessionReader{Reader: stdout, p: p},
	}
	if stderr != nil {
		p.streams.Stderr = &sessionReader{Reader: stderr, p: p}
	}

	go p.wait()
	return p, nil
}

// launcher builds the remote shell line: change directory, print the
// shell's pid, then exec the executable in place so the pid is preserved.
func launcher(cmd strategy.Command, redirect bool) string {
	var b strings.Builder
	if cmd.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(quote(cmd.Dir))
		b.WriteString(" && ")
	}
	b.WriteString("echo $$ && exec env")
	if !cmd.InheritEnv {
		b.WriteString(" -i")
	}
	for _, kv := range cmd.Explicit {
		b.WriteByte(' ')
		b.WriteString(quote(kv))
	}
	b.WriteByte(' ')
	b.WriteString(quote(cmd.Executable))
	for _, arg := range cmd.Args {
		b.WriteByte(' ')
		b.WriteString(quote(arg))
	}
	if redirect {
		b.WriteString(" 2>&1")
	}
	return b.String()
}

// quote wraps s in single quotes for a POSIX shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// readPID reads the launcher's first line one byte at a time so that no
// output of the executable is consumed.
func readPID(ctx context.Context, r io.Reader, session *ssh.Session) (int64, error) {
	type result struct {
		pid int64
		err error
	}
	ch := make(chan result, 1)

	go func() {
		var line []byte
		buf := make([]byte, 1)
		for len(line) < maxPIDLine {
			if _, err := io.ReadFull(r, buf); err != nil {
				ch <- result{err: fmt.Errorf("read pid: %w", err)}
				return
			}
			if buf[0] == '\n' {
				pid, err := strconv.ParseInt(strings.TrimSpace(string(line)), 10, 64)
				if err != nil {
					err = fmt.Errorf("read pid: %w", err)
				}
				ch <- result{pid: pid, err: err}
				return
			}
			line = append(line, buf[0])
		}
		ch <- result{err: errors.New("read pid: launcher line too long")}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			session.Close()
		}
		return res.pid, res.err
	case <-ctx.Done():
		session.Close()
		return 0, ctx.Err()
	}
}

func (s *Strategy) spawnError(cmd strategy.Command, err error) error {
	return &strategy.SpawnError{Strategy: Name, Executable: cmd.Executable, Err: err}
}

// process is a Unit running in an SSH session.
type process struct {
	pid       int64
	client    *ssh.Client
	session   *ssh.Session
	streams   console.Streams
	killGrace time.Duration
	log       *logging.Logger

	done      chan struct{}
	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func (p *process) ID() int64 { return p.pid }

func (p *process) Streams() console.Streams { return p.streams }

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) wait() {
	err := p.session.Wait()

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()

	p.log.Debug("Remote process exited", zap.Error(err))
	close(p.done)
}

// Terminate sends SIGTERM to the remote process, then SIGKILL after the
// grace period. The connection is released with the streams, or here if
// the process outlives ctx.
func (p *process) Terminate(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.signal(ssh.SIGTERM); err != nil {
		p.log.Debug("Interrupt failed", zap.Error(err))
	}

	timer := time.NewTimer(p.killGrace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	if err := p.signal(ssh.SIGKILL); err != nil {
		p.log.Warn("Kill failed", zap.Error(err))
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		p.close()
		return fmt.Errorf("remote process %d did not exit: %w", p.pid, ctx.Err())
	}
}

// signal delivers sig through the session and, since many servers ignore
// signal requests, through kill(1) in a second session.
func (p *process) signal(sig ssh.Signal) error {
	p.session.Signal(sig)

	s, err := p.client.NewSession()
	if err != nil {
		return err
	}
	defer s.Close()

	err = s.Run(fmt.Sprintf("kill -s %s %d", sig, p.pid))
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		// The process already exited.
		return nil
	}
	return err
}

func (p *process) close() {
	p.closeOnce.Do(func() {
		p.session.Close()
		p.client.Close()
	})
}

// sessionReader closes the connection when the console releases it.
type sessionReader struct {
	io.Reader
	p *process
}

func (r *sessionReader) Close() error {
	r.p.close()
	return nil
}
