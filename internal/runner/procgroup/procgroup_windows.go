//go:build windows

package procgroup

import (
	"fmt"
	"os/exec"
	"syscall"

	"github.com/kolesnikovae/go-winjob"
)

// platformHandle groups a Windows process using a job object: every process
// assigned to the job (including ones it spawns, since the job propagates by
// default) is terminated together when the job is terminated or closed. The
// child is also started in its own process group (CREATE_NEW_PROCESS_GROUP)
// so that, if job-object assignment ever fails, it can still be reached
// independently of the gateway's own console process group.
type platformHandle struct {
	job *winjob.Job
}

const createNewProcessGroup = 0x00000200

func newPlatformHandle(cmd *exec.Cmd) (platformHandle, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: createNewProcessGroup}
	return platformHandle{}, nil
}

func (h *platformHandle) afterStart(cmd *exec.Cmd) error {
	job, err := winjob.Create(winjob.WithKillOnJobClose())
	if err != nil {
		return fmt.Errorf("unable to create job object for tree-kill: %w", err)
	}
	if err := job.Assign(cmd.Process); err != nil {
		job.Close()
		return fmt.Errorf("unable to assign process to job object: %w", err)
	}
	h.job = job
	return nil
}

func (h *platformHandle) terminate() {
	if h.job != nil {
		_ = h.job.Terminate(1)
	}
}

func (h *platformHandle) kill() {
	// Job objects have no graceful-vs-forceful distinction; Terminate already
	// kills every process in the job immediately.
	if h.job != nil {
		_ = h.job.Terminate(1)
		h.job.Close()
	}
}
