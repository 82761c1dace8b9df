//go:build !windows

package decoder

import (
	"os"
	"syscall"
)

// terminateProcess asks the child to exit gracefully.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
