// Package supervisor implements the Supervisor component: it
// spawns the manager and every worker pool as child OS processes, captures
// their output to per-child append-mode log files, restarts children that
// exit unexpectedly, and drives graceful shutdown on a termination signal.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ingestfabric/internal/logging"
)

// ChildSpec describes one child process the supervisor manages.
type ChildSpec struct {
	Stage    string // "manager", "extract", "chunk", "embed"
	WorkerID string // "" for the singleton manager
	Command  string
	Args     []string
	// Restartable is false only for the broker, which the supervisor never
	// restarts.
	Restartable bool
}

func (c ChildSpec) key() string {
	if c.WorkerID == "" {
		return c.Stage
	}
	return c.Stage + ":" + c.WorkerID
}

func (c ChildSpec) displayName() string {
	if c.WorkerID == "" {
		return c.Stage
	}
	return fmt.Sprintf("%s[%s]", c.Stage, c.WorkerID)
}

// child tracks one running (or just-exited) process. exited is closed by
// the monitorChild goroutine once cmd.Wait returns.
type child struct {
	spec    ChildSpec
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan struct{}

	mu            sync.Mutex
	exitErr       error
	cleanShutdown bool
}

func (c *child) markCleanShutdown() {
	c.mu.Lock()
	c.cleanShutdown = true
	c.mu.Unlock()
}

func (c *child) wasCleanShutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanShutdown
}

// Config configures the Supervisor.
type Config struct {
	LogDir      string
	GracePeriod time.Duration
	PollEvery   time.Duration
}

// Supervisor spawns, monitors, restarts, and shuts down child processes.
type Supervisor struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	children map[string]*child
	stopping bool
}

// New constructs a Supervisor. GracePeriod and PollEvery default to 5s and
// 15s respectively when zero.
func New(cfg Config, log zerolog.Logger) *Supervisor {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 5 * time.Second
	}
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 15 * time.Second
	}
	return &Supervisor{cfg: cfg, log: log, children: map[string]*child{}}
}

// Start spawns one child process per spec.
func (s *Supervisor) Start(specs []ChildSpec) error {
	for _, spec := range specs {
		if err := s.startChild(spec); err != nil {
			return fmt.Errorf("start %s: %w", spec.displayName(), err)
		}
	}
	return nil
}

func (s *Supervisor) startChild(spec ChildSpec) error {
	if err := os.MkdirAll(s.cfg.LogDir, 0o755); err != nil {
		return err
	}
	logPath := filepath.Join(s.cfg.LogDir, spec.key()+".log")

	existed := false
	if info, err := os.Stat(logPath); err == nil && info.Size() > 0 {
		existed = true
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	if existed {
		banner := fmt.Sprintf("\n%s\nprocess restarted at %s\n%s\n\n",
			"==================================================", time.Now().Format(time.RFC3339), "==================================================")
		if _, err := f.WriteString(banner); err != nil {
			f.Close()
			return fmt.Errorf("write restart banner: %w", err)
		}
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Start(); err != nil {
		f.Close()
		return err
	}

	logging.Fields(s.log.Info(), "-", "supervisor", "supervisor", "child_started").
		Str("child", spec.displayName()).Int("pid", cmd.Process.Pid).Str("log", logPath).Msg("child process started")

	c := &child{spec: spec, cmd: cmd, logFile: f, exited: make(chan struct{})}
	s.mu.Lock()
	s.children[spec.key()] = c
	s.mu.Unlock()

	go s.monitorChild(c)
	return nil
}

// monitorChild blocks on cmd.Wait and reports completion.
func (s *Supervisor) monitorChild(c *child) {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.exitErr = err
	c.mu.Unlock()
	close(c.exited)
}

// Monitor polls child liveness every PollEvery until ctx is cancelled,
// restarting any child that exited unexpectedly.
func (s *Supervisor) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapAndRestart()
		}
	}
}

func (s *Supervisor) reapAndRestart() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	var dead []*child
	for key, c := range s.children {
		select {
		case <-c.exited:
			dead = append(dead, c)
			delete(s.children, key)
		default:
		}
	}
	s.mu.Unlock()

	for _, c := range dead {
		if c.wasCleanShutdown() {
			continue
		}
		c.logFile.Close()

		if !c.spec.Restartable {
			logging.Fields(s.log.Warn(), "-", "supervisor", "supervisor", "child_exited").
				Str("child", c.spec.displayName()).Msg("non-restartable child exited, not restarting")
			continue
		}

		exitCode := -1
		if c.cmd.ProcessState != nil {
			exitCode = c.cmd.ProcessState.ExitCode()
		}
		if c.spec.Stage == "manager" && exitCode == 0 {
			logging.Fields(s.log.Info(), "-", "supervisor", "supervisor", "child_exited").
				Str("child", c.spec.displayName()).Msg("manager exited cleanly, not restarting")
			continue
		}
		logging.Fields(s.log.Warn(), "-", "supervisor", "supervisor", "child_restarting").
			Str("child", c.spec.displayName()).Int("exit_code", exitCode).Msg("child exited, restarting")
		if err := s.startChild(c.spec); err != nil {
			logging.Fields(s.log.Error(), "-", "supervisor", "supervisor", "restart_failed").
				Str("child", c.spec.displayName()).Err(err).Msg("failed to restart child")
		}
	}
}

// Shutdown signals every child to stop, waits up to GracePeriod, then
// force-kills stragglers.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	children := make([]*child, 0, len(s.children))
	for _, c := range s.children {
		c.markCleanShutdown()
		children = append(children, c)
	}
	s.mu.Unlock()

	logging.Fields(s.log.Info(), "-", "supervisor", "supervisor", "shutdown_begin").Msg("shutting down children")

	var g errgroup.Group
	for _, c := range children {
		c := c
		g.Go(func() error {
			s.stopChild(c)
			return nil
		})
	}
	_ = g.Wait()

	logging.Fields(s.log.Info(), "-", "supervisor", "supervisor", "shutdown_complete").Msg("all children terminated")
}

func (s *Supervisor) stopChild(c *child) {
	defer c.logFile.Close()

	if c.cmd.Process == nil {
		return
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-c.exited:
		logging.Fields(s.log.Info(), "-", "supervisor", "supervisor", "child_stopped").
			Str("child", c.spec.displayName()).Msg("child terminated gracefully")
	case <-time.After(s.cfg.GracePeriod):
		logging.Fields(s.log.Warn(), "-", "supervisor", "supervisor", "child_killed").
			Str("child", c.spec.displayName()).Msg("child did not terminate gracefully, killing")
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
}
