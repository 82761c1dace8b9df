//go:build windows

package decoder

import "os"

// terminateProcess stops the child. Windows has no SIGTERM equivalent that
// ffmpeg honors reliably, so this is an immediate kill.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
