package executor

import (
	"io"
	"os"

	"github.com/creack/pty"
	"github.com/mylxsw/asteria/log"
)

// openStdout returns the read side for the gateway and the write side for
// the child. With usePTY the child sees a terminal and node stops block
// buffering its output.
func openStdout(usePTY bool) (io.ReadCloser, *os.File, error) {
	if usePTY {
		ptmx, tty, err := pty.Open()
		if err == nil {
			return ptmx, tty, nil
		}
		log.Warningf("pseudo-terminal unavailable, falling back to a pipe: %v", err)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	return r, w, nil
}
