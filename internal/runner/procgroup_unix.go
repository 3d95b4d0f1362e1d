//go:build darwin || linux

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup starts cmd in its own session so that cancellation kills
// the command together with everything it spawned.
//
// setupProcessGroupはcmdを独自のセッションで開始し、キャンセル時に
// コマンドとその子プロセスをまとめて終了させます。
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return os.ErrProcessDone
		}
		// kill(-1) and kill(0) would hit far more than the command.
		pid := cmd.Process.Pid
		if pid <= 1 {
			return os.ErrProcessDone
		}
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			if errors.Is(err, unix.ESRCH) {
				return os.ErrProcessDone
			}
			return err
		}
		return nil
	}
}
