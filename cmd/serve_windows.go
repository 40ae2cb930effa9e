//go:build windows

package cmd

import (
	"os"
	"os/exec"
)

func setDaemonAttrs(_ *exec.Cmd) {}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
