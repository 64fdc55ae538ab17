//go:build windows

package fxrunner

import "os"

// Windows has no SIGTERM equivalent for console processes that we can deliver
// without attaching to their console.
func terminate(p *os.Process) error {
	return p.Kill()
}
