package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	derrors "storage-kit-hub/internal/domain/errors"
)

type ProcessStatus struct {
	Name      string     `json:"name"`
	Running   bool       `json:"running"`
	Simulated bool       `json:"simulated"`
	PID       int        `json:"pid,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Uptime    string     `json:"uptime,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

type ProcessConfig struct {
	Name   string
	Binary string
	Args   []string
	// Env entries are appended to the current environment.
	Env        []string
	Simulation bool
	// Grace is how long Stop waits after SIGTERM before killing.
	Grace  time.Duration
	Logger *zap.Logger
}

// Process supervises one long-running daemon such as `lotus daemon`.
type Process struct {
	cfg ProcessConfig
	log *zap.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	startedAt time.Time
	exited    chan struct{}
	lastErr   error
}

func NewProcess(cfg ProcessConfig) *Process {
	if cfg.Grace <= 0 {
		cfg.Grace = 10 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Process{cfg: cfg, log: log.With(zap.String("daemon", cfg.Name))}
}

// LotusProcess runs `lotus daemon` against repoPath.
func LotusProcess(binary, repoPath string, simulation bool, log *zap.Logger) *Process {
	var env []string
	if repoPath != "" {
		env = append(env, "LOTUS_PATH="+repoPath)
	}
	return NewProcess(ProcessConfig{Name: "lotus", Binary: binary, Args: []string{"daemon"}, Env: env, Simulation: simulation, Logger: log})
}

// IPFSProcess runs `ipfs daemon` against repoPath.
func IPFSProcess(binary, repoPath string, simulation bool, log *zap.Logger) *Process {
	var env []string
	if repoPath != "" {
		env = append(env, "IPFS_PATH="+repoPath)
	}
	return NewProcess(ProcessConfig{Name: "ipfs", Binary: binary, Args: []string{"daemon"}, Env: env, Simulation: simulation, Logger: log})
}

func (p *Process) Name() string { return p.cfg.Name }

// Start spawns the daemon. The process outlives ctx; ctx only bounds startup.
func (p *Process) Start(ctx context.Context) error {
	if p.cfg.Simulation {
		p.log.Info("simulation mode, daemon start skipped")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return derrors.ErrConflict.WithMessage(p.cfg.Name + " daemon is already running")
	}
	if _, err := exec.LookPath(p.cfg.Binary); err != nil {
		return derrors.ErrDaemonUnavailable.WithMessage(fmt.Sprintf("%s binary not found: %v", p.cfg.Binary, err))
	}

	cmd := exec.Command(p.cfg.Binary, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	if err := cmd.Start(); err != nil {
		p.lastErr = err
		return fmt.Errorf("start %s: %w", p.cfg.Name, err)
	}

	exited := make(chan struct{})
	p.cmd = cmd
	p.exited = exited
	p.startedAt = time.Now()
	p.lastErr = nil
	p.log.Info("daemon started", zap.Int("pid", cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
			p.lastErr = err
		}
		p.mu.Unlock()
		close(exited)
		p.log.Info("daemon exited", zap.Error(err))
	}()
	return nil
}

// Stop sends SIGTERM and kills the process if it is still alive after the grace period.
func (p *Process) Stop(ctx context.Context) error {
	if p.cfg.Simulation {
		p.log.Info("simulation mode, daemon stop skipped")
		return nil
	}

	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil {
		return derrors.ErrConflict.WithMessage(p.cfg.Name + " daemon is not running")
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(p.cfg.Grace)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	p.log.Warn("daemon did not stop in time, killing")
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill %s: %w", p.cfg.Name, err)
	}
	select {
	case <-exited:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("%s did not exit after kill", p.cfg.Name)
	}
}

func (p *Process) Status() ProcessStatus {
	st := ProcessStatus{Name: p.cfg.Name, Simulated: p.cfg.Simulation}
	if p.cfg.Simulation {
		return st
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
	}
	if p.cmd == nil {
		return st
	}
	started := p.startedAt
	st.Running = true
	st.PID = p.cmd.Process.Pid
	st.StartedAt = &started
	st.Uptime = time.Since(started).Truncate(time.Second).String()
	return st
}
