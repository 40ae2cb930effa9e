// Package daemon tracks the background API server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned when no live process owns the PID file.
var ErrNotRunning = errors.New("server is not running")

// pollInterval is how often Stop checks whether the process has exited.
const pollInterval = 200 * time.Millisecond

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes pid to the file, creating its directory if needed.
func (p *PIDFile) WritePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0o755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file. A missing file is not an error.
func (p *PIDFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stop sends term and waits up to timeout for the process to exit, then
// sends kill. forced reports whether kill was needed. The PID file is
// removed whenever the process is gone, including when it was already dead.
func (p *PIDFile) Stop(term, kill syscall.Signal, timeout time.Duration) (pid int, forced bool, err error) {
	pid, running := p.IsRunning()
	if !running {
		_ = p.Remove()
		return pid, false, ErrNotRunning
	}

	if err := p.Signal(term); err != nil {
		return pid, false, fmt.Errorf("signal process %d: %w", pid, err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, alive := p.IsRunning(); !alive {
			return pid, false, p.Remove()
		}
		time.Sleep(pollInterval)
	}

	if err := p.Signal(kill); err != nil {
		return pid, true, fmt.Errorf("kill process %d: %w", pid, err)
	}
	return pid, true, p.Remove()
}
