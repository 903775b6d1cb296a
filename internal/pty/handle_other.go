//go:build !unix

package pty

import (
	"os"
	"os/exec"
)

// start is not implemented off Unix; ConPTY support is out of scope.
func start(cmd *exec.Cmd, rows, cols uint16) (*os.File, error) {
	return nil, ErrNotSupported
}

func terminate(p *os.Process, force bool) {
	_ = p.Kill()
}
