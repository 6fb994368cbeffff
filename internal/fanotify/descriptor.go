//go:build linux

package fanotify

import (
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// NoFD is the descriptor value the kernel reports when an event has no
// file attached, e.g. a queue overflow.
const NoFD = unix.FAN_NOFD

// Descriptor is the file descriptor handed over with an event. The holder
// owns it and must Release it once. Copies of an Event share the same
// Descriptor, so a release through any copy consumes it for all of them.
type Descriptor struct {
	fd atomic.Int32
}

func newDescriptor(fd int32) *Descriptor {
	d := &Descriptor{}
	d.fd.Store(fd)
	return d
}

// Fd returns the raw descriptor, or NoFD once released.
func (d *Descriptor) Fd() int {
	if d == nil {
		return NoFD
	}
	if fd := d.fd.Load(); fd >= 0 {
		return int(fd)
	}
	return NoFD
}

// Valid reports whether the descriptor refers to an open file owned by the caller.
func (d *Descriptor) Valid() bool {
	return d.Fd() >= 0
}

// Release closes the descriptor. The first call consumes it; later calls
// return ErrReleased without issuing another close. Releasing a NoFD
// descriptor is a no-op.
func (d *Descriptor) Release() error {
	if d == nil {
		return nil
	}
	for {
		fd := d.fd.Load()
		if fd == released {
			return ErrReleased
		}
		if fd < 0 {
			return nil
		}
		if d.fd.CompareAndSwap(fd, released) {
			return classifyErr(unix.Close(int(fd)), OpClose)
		}
	}
}

// released marks a consumed descriptor. It differs from NoFD so a second
// Release can be told apart from an event that never had a file.
const released = -2

// Path resolves the file the descriptor refers to.
func (d *Descriptor) Path() (string, error) {
	fd := d.Fd()
	if fd < 0 {
		return "", fmt.Errorf("resolve path: %w", unix.EBADF)
	}
	buf := make([]byte, unix.PathMax)
	n, err := unix.Readlink("/proc/self/fd/"+strconv.Itoa(fd), buf)
	if err != nil {
		return "", fmt.Errorf("resolve path of fd %d: %w", fd, err)
	}
	return string(buf[:n]), nil
}

// ReadAt reads from the underlying file without moving its offset.
func (d *Descriptor) ReadAt(p []byte, off int64) (int, error) {
	fd := d.Fd()
	if fd < 0 {
		return 0, classifyErr(unix.EBADF, OpRead)
	}
	n, err := unix.Pread(fd, p, off)
	if err != nil {
		return 0, classifyErr(err, OpRead)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (d *Descriptor) String() string {
	if d == nil {
		return "fd(none)"
	}
	switch fd := d.fd.Load(); {
	case fd == released:
		return "fd(released)"
	case fd < 0:
		return "fd(none)"
	default:
		return "fd(" + strconv.Itoa(int(fd)) + ")"
	}
}

// Release closes the descriptor carried by ev. See Descriptor.Release.
func Release(ev Event) error {
	return ev.File.Release()
}
