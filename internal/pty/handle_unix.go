//go:build unix

package pty

import (
	"os"
	"os/exec"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// start runs cmd as a session leader with the pty slave as its controlling
// terminal and returns the master side.
func start(cmd *exec.Cmd, rows, cols uint16) (*os.File, error) {
	return pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
}

// terminate signals the child's whole process group, so that programs
// started through the shell go away with it.
func terminate(p *os.Process, force bool) {
	sig := unix.SIGTERM
	if force {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-p.Pid, sig); err != nil {
		_ = p.Signal(sig)
	}
}
