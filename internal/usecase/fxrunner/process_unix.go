//go:build unix

package fxrunner

import (
	"os"
	"syscall"
)

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
