//go:build linux

package fanotify

import (
	"bytes"
	"sync/atomic"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/unix"
)

// Group is an fanotify notification group. It owns its descriptor until
// Close; after that every call fails with EBADF instead of touching
// whatever the descriptor number has been reused for.
type Group struct {
	fd atomic.Int64
}

// Open calls fanotify_init. classFlags carries FAN_CLASS_* and the other
// FAN_* init flags, eventFlags the open(2) flags used for event descriptors.
func Open(classFlags, eventFlags uint) (*Group, error) {
	fd, err := unix.FanotifyInit(classFlags, eventFlags)
	if err != nil {
		return nil, classifyErr(err, OpInit)
	}
	return newGroup(fd), nil
}

func newGroup(fd int) *Group {
	g := &Group{}
	g.fd.Store(int64(fd))
	return g
}

// Fd returns the group descriptor, or -1 after Close.
func (g *Group) Fd() int {
	return int(g.fd.Load())
}

func (g *Group) fdFor(op Op) (int, error) {
	fd := g.Fd()
	if fd < 0 {
		return -1, Classify(unix.EBADF, op)
	}
	return fd, nil
}

// SetNonblock toggles O_NONBLOCK on the group descriptor. A non-blocking
// group makes Read return an empty batch when nothing is queued. Failures
// are tagged OpInit, since this does what FAN_NONBLOCK does at init time.
func (g *Group) SetNonblock(nonblocking bool) error {
	fd, err := g.fdFor(OpInit)
	if err != nil {
		return err
	}
	return classifyErr(unix.SetNonblock(fd, nonblocking), OpInit)
}

// Mark calls fanotify_mark with raw FAN_MARK_* flags.
func (g *Group) Mark(flags uint, mask uint64, dirfd int, path string) error {
	fd, err := g.fdFor(OpMark)
	if err != nil {
		return err
	}
	return classifyErr(unix.FanotifyMark(fd, flags, mask, dirfd, path), OpMark)
}

// AddMark starts reporting mask events for path. extra is ORed into
// FAN_MARK_ADD, e.g. FAN_MARK_MOUNT or FAN_MARK_FILESYSTEM.
func (g *Group) AddMark(path string, extra uint, mask uint64) error {
	return g.Mark(unix.FAN_MARK_ADD|extra, mask, unix.AT_FDCWD, path)
}

// RemoveMark stops reporting mask events for path. extra must match the
// object type used when the mark was added.
func (g *Group) RemoveMark(path string, extra uint, mask uint64) error {
	return g.Mark(unix.FAN_MARK_REMOVE|extra, mask, unix.AT_FDCWD, path)
}

// FlushMarks drops every mark of the given object type (0 for inodes,
// FAN_MARK_MOUNT or FAN_MARK_FILESYSTEM).
func (g *Group) FlushMarks(extra uint) error {
	return g.Mark(unix.FAN_MARK_FLUSH|extra, 0, unix.AT_FDCWD, "")
}

type response struct {
	Fd       int32
	Response uint32
}

// Respond answers a permission event. It must be called before the event's
// descriptor is released, since the kernel identifies the event by it.
func (g *Group) Respond(ev Event, allow bool) error {
	fd, err := g.fdFor(OpWrite)
	if err != nil {
		return err
	}
	if !ev.File.Valid() {
		return Classify(unix.EBADF, OpWrite)
	}
	resp := response{Fd: int32(ev.File.Fd()), Response: unix.FAN_DENY}
	if allow {
		resp.Response = unix.FAN_ALLOW
	}
	var out bytes.Buffer
	out.Grow(8)
	if err := struc.PackWithOptions(&out, &resp, &packOpts); err != nil {
		return err
	}
	_, err = unix.Write(fd, out.Bytes())
	return classifyErr(err, OpWrite)
}

// Close releases the group. Marks and pending permission events go away
// with it; the kernel allows any events still waiting for a response.
func (g *Group) Close() error {
	fd := g.fd.Swap(-1)
	if fd < 0 {
		return Classify(unix.EBADF, OpClose)
	}
	return classifyErr(unix.Close(int(fd)), OpClose)
}
