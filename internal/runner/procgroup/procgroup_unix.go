//go:build !windows

package procgroup

import (
	"os/exec"
	"syscall"
)

// platformHandle groups a POSIX process by making it its own session
// leader (Setsid), which gives it a process group ID equal to its own PID;
// terminate/kill then signal the negative PGID, which the kernel delivers to
// every process in that group, including any descendants the child spawned.
type platformHandle struct {
	pgid int
}

func newPlatformHandle(cmd *exec.Cmd) (platformHandle, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	return platformHandle{}, nil
}

func (h *platformHandle) afterStart(cmd *exec.Cmd) error {
	h.pgid = cmd.Process.Pid
	return nil
}

func (h *platformHandle) terminate() {
	_ = syscall.Kill(-h.pgid, syscall.SIGTERM)
}

func (h *platformHandle) kill() {
	_ = syscall.Kill(-h.pgid, syscall.SIGKILL)
}
