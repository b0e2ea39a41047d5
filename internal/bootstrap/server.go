// Package bootstrap makes sure the system under test is reachable before any
// scenario runs, starting it when needed and stopping what it started.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mattn/go-shellwords"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"ui-qa/internal/config"
)

// BootTimeoutError means the port never accepted connections in time.
type BootTimeoutError struct {
	Addr    string
	Timeout time.Duration
}

func (e *BootTimeoutError) Error() string {
	return fmt.Sprintf("server not reachable on %s after %s", e.Addr, e.Timeout)
}

// BootProcessError means the boot command could not start or exited before
// the port became ready.
type BootProcessError struct {
	Command string
	Err     error
	Stderr  string // tail of the process's stderr
}

func (e *BootProcessError) Error() string {
	msg := fmt.Sprintf("boot command %q: %v", e.Command, e.Err)
	if e.Stderr != "" {
		msg += "\n" + e.Stderr
	}
	return msg
}

func (e *BootProcessError) Unwrap() error { return e.Err }

const (
	dialEvery   = 100 * time.Millisecond
	stopGrace   = 5 * time.Second
	stderrLimit = 4 << 10
)

// Server is the running system under test. Stop only terminates a process
// this package started.
type Server struct {
	Addr         string
	Title        string
	BootDuration time.Duration

	reused bool
	cmd    *exec.Cmd
	done   chan struct{}
	stderr *tail
	logger arbor.ILogger
	once   sync.Once
}

func (s *Server) Reused() bool { return s.reused }

// EnsureRunning reuses a reachable server when the configuration allows it,
// otherwise launches server.command and waits for the port.
func EnsureRunning(ctx context.Context, cfg *config.Config, logger arbor.ILogger) (*Server, error) {
	start := time.Now()
	addr := cfg.ReadyAddr()

	if cfg.ReuseIfRunning() && reachable(ctx, addr) {
		s := &Server{Addr: addr, reused: true, logger: logger}
		s.Title = pageTitle(ctx, cfg.BaseURL, logger)
		logger.Info().Str("addr", addr).Str("title", s.Title).Msg("Reusing running server")
		return s, nil
	}

	// anything already listening would answer the readiness check for us
	if reachable(ctx, addr) {
		return nil, &BootProcessError{Command: cfg.Server.Command, Err: fmt.Errorf("port already in use: %s", addr)}
	}

	args, err := shellwords.Parse(cfg.Server.Command)
	if err != nil {
		return nil, &BootProcessError{Command: cfg.Server.Command, Err: err}
	}
	if len(args) == 0 {
		return nil, &BootProcessError{Command: cfg.Server.Command, Err: errors.New("empty command")}
	}

	s := &Server{Addr: addr, done: make(chan struct{}), stderr: &tail{limit: stderrLimit}, logger: logger}
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = cfg.Server.Dir
	cmd.Env = os.Environ()
	cmd.Stdout = io.Discard
	cmd.Stderr = s.stderr
	if err := cmd.Start(); err != nil {
		return nil, &BootProcessError{Command: cfg.Server.Command, Err: err}
	}
	s.cmd = cmd

	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(s.done)
	}()
	logger.Info().Str("command", cfg.Server.Command).Int("pid", cmd.Process.Pid).Str("addr", addr).Msg("Server starting")

	timeout := cfg.BootTimeout()
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(dialEvery), 1)
	for {
		if err := limiter.Wait(bctx); err != nil {
			_ = s.Stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, &BootTimeoutError{Addr: addr, Timeout: timeout}
		}
		if s.exited() {
			return nil, s.exitError(cfg.Server.Command, waitErr)
		}
		if reachable(bctx, addr) {
			break
		}
	}
	if s.exited() {
		return nil, s.exitError(cfg.Server.Command, waitErr)
	}

	s.BootDuration = time.Since(start)
	s.Title = pageTitle(ctx, cfg.BaseURL, logger)
	logger.Info().Str("addr", addr).Str("title", s.Title).Str("after", s.BootDuration.Round(time.Millisecond).String()).Msg("Server ready")
	return s, nil
}

func (s *Server) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// exitError must only be called once done is closed.
func (s *Server) exitError(command string, waitErr error) error {
	if waitErr == nil {
		waitErr = errors.New("exited with status 0")
	}
	return &BootProcessError{Command: command, Err: waitErr, Stderr: s.stderr.String()}
}

// Stop terminates the launched process: interrupt, then kill after a grace
// period. Safe to call more than once.
func (s *Server) Stop() error {
	if s == nil || s.cmd == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		select {
		case <-s.done:
			return
		default:
		}
		if runtime.GOOS == "windows" {
			err = s.cmd.Process.Kill()
		} else if ierr := s.cmd.Process.Signal(os.Interrupt); ierr != nil {
			err = s.cmd.Process.Kill()
		}
		select {
		case <-s.done:
		case <-time.After(stopGrace):
			err = s.cmd.Process.Kill()
			<-s.done
		}
		s.logger.Info().Int("pid", s.cmd.Process.Pid).Msg("Server stopped")
	})
	return err
}

// reachable reports whether addr accepts a TCP connection.
func reachable(ctx context.Context, addr string) bool {
	d := net.Dialer{Timeout: time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// pageTitle fetches the base URL once and returns its <title>. Failures are
// logged, not fatal.
func pageTitle(ctx context.Context, url string, logger arbor.ILogger) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Str("url", url).Msg("GET base_url failed")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		logger.Warn().Int("status", resp.StatusCode).Str("url", url).Msg("GET base_url returned an error status")
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

// tail keeps the last limit bytes written to it.
type tail struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
