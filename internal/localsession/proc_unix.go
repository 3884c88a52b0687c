//go:build unix

package localsession

import (
	"os"
	"syscall"
)

// sysProcAttr puts the child in its own process group so that termination
// reaches everything it spawned.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalTerm(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGTERM)
}

func signalKill(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}

// exitStatus returns the exit code, or the negated signal number when the
// process was killed by a signal.
func exitStatus(state *os.ProcessState) int {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}
