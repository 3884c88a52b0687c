//go:build !unix

package localsession

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func signalTerm(p *os.Process) error {
	return p.Kill()
}

func signalKill(p *os.Process) error {
	return p.Kill()
}

func exitStatus(state *os.ProcessState) int {
	return state.ExitCode()
}
