//go:build unix

package executor

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// terminateProcessGroup sends SIGTERM to the command's whole process group so
// package-manager helpers forked by the child go down with it.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return cmd.Process.Signal(unix.SIGTERM)
	}

	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
