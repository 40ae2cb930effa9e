//go:build !windows

package daemon

import (
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startChild runs a long sleep and reaps it in the background so a
// terminated child does not linger as a zombie.
func startChild(t *testing.T, args ...string) *os.Process {
	t.Helper()
	cmd := exec.Command("sh", append([]string{"-c"}, args...)...)
	require.NoError(t, cmd.Start())
	go func() { _ = cmd.Wait() }()
	t.Cleanup(func() { _ = cmd.Process.Kill() })
	return cmd.Process
}

func TestPIDFile_Stop_Terminates(t *testing.T) {
	proc := startChild(t, "sleep 30")
	pf := NewPIDFile(filepath.Join(t.TempDir(), "child.pid"))
	require.NoError(t, pf.WritePID(proc.Pid))

	pid, forced, err := pf.Stop(syscall.SIGTERM, syscall.SIGKILL, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, proc.Pid, pid)
	assert.False(t, forced)

	_, statErr := os.Stat(pf.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPIDFile_Stop_EscalatesToKill(t *testing.T) {
	proc := startChild(t, `trap "" TERM; sleep 30 & wait`)
	pf := NewPIDFile(filepath.Join(t.TempDir(), "stubborn.pid"))
	require.NoError(t, pf.WritePID(proc.Pid))

	// Give the shell time to install its trap.
	time.Sleep(100 * time.Millisecond)

	_, forced, err := pf.Stop(syscall.SIGTERM, syscall.SIGKILL, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, forced)
}
