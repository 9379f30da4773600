package pipeline

import (
	"os"

	"golang.org/x/sys/unix"
)

// disableEcho clears the ECHO flag on the pty's line discipline so input
// written to the master is not reflected back into the output stream.
// Best effort; a pty that rejects the ioctl keeps echoing.
func disableEcho(f *os.File) {
	fd := int(f.Fd())
	tio, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return
	}
	tio.Lflag &^= unix.ECHO
	_ = unix.IoctlSetTermios(fd, ioctlWriteTermios, tio)
}
