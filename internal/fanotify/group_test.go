//go:build linux

package fanotify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("fanotify_init needs CAP_SYS_ADMIN")
	}
}

func TestOpenWithoutPrivilege(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root")
	}
	_, err := Open(unix.FAN_CLASS_NOTIF, unix.O_RDONLY)
	require.True(t, IsOp(err, OpInit))
	require.ErrorIs(t, err, unix.EPERM)
	require.Contains(t, err.Error(), "CAP_SYS_ADMIN")
}

func TestCloseTwice(t *testing.T) {
	g, _ := pipeGroup(t, 0)
	require.NoError(t, g.Close())
	require.Equal(t, -1, g.Fd())

	err := g.Close()
	require.True(t, IsOp(err, OpClose))
	require.ErrorIs(t, err, unix.EBADF)

	require.True(t, IsOp(g.AddMark("/tmp", 0, unix.FAN_OPEN), OpMark))
	require.True(t, IsOp(g.Respond(testEvent(unix.FAN_OPEN_PERM, NoFD, 1), true), OpWrite))
}

func TestRespondWritesResponse(t *testing.T) {
	// Use a pipe as the group so the packed response can be read back.
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	defer unix.Close(p[0])
	g := newGroup(p[1])
	defer g.Close()

	fd := dupFd(t)
	ev := testEvent(unix.FAN_OPEN_PERM, fd, 1)
	defer ev.File.Release()

	require.NoError(t, g.Respond(ev, false))
	buf := make([]byte, 16)
	n, err := unix.Read(p[0], buf)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, uint32(fd), packOpts.Order.Uint32(buf[0:4]))
	require.Equal(t, uint32(unix.FAN_DENY), packOpts.Order.Uint32(buf[4:8]))

	require.NoError(t, ev.File.Release())
	err = g.Respond(ev, true)
	require.True(t, IsOp(err, OpWrite))
}

func TestOpenMarkRead(t *testing.T) {
	requireRoot(t)

	dir := t.TempDir()
	probe := filepath.Join(dir, "probe")
	require.NoError(t, os.WriteFile(probe, []byte("x"), 0o644))

	g, err := Open(unix.FAN_CLASS_NOTIF|unix.FAN_CLOEXEC, unix.O_RDONLY)
	if err != nil {
		t.Skipf("fanotify unavailable: %v", err)
	}
	defer g.Close()
	require.NoError(t, g.AddMark(probe, 0, unix.FAN_OPEN))

	f, err := os.Open(probe)
	require.NoError(t, err)
	f.Close()

	require.NoError(t, g.SetNonblock(true))
	var got []Event
	deadline := time.Now().Add(2 * time.Second)
	for len(got) == 0 && time.Now().Before(deadline) {
		got, err = ReadEvents(g)
		require.NoError(t, err)
		if len(got) == 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}
	require.Len(t, got, 1)
	ev := got[0]
	require.True(t, ev.Has(unix.FAN_OPEN))
	require.Equal(t, int32(os.Getpid()), ev.Pid)
	require.True(t, ev.File.Valid())

	want, err := filepath.EvalSymlinks(probe)
	require.NoError(t, err)
	path, err := ev.File.Path()
	require.NoError(t, err)
	require.Equal(t, want, path)

	head := make([]byte, 1)
	_, err = ev.File.ReadAt(head, 0)
	require.NoError(t, err)
	require.Equal(t, "x", string(head))

	require.NoError(t, ev.File.Release())
	require.ErrorIs(t, ev.File.Release(), ErrReleased)

	require.NoError(t, g.RemoveMark(probe, 0, unix.FAN_OPEN))
	err = g.RemoveMark(probe, 0, unix.FAN_OPEN)
	require.True(t, IsOp(err, OpMark))
	require.NoError(t, g.FlushMarks(0))
}

func TestReadNonblockingGroupEmpty(t *testing.T) {
	requireRoot(t)

	g, err := Open(unix.FAN_CLASS_NOTIF|unix.FAN_NONBLOCK|unix.FAN_CLOEXEC, unix.O_RDONLY)
	if err != nil {
		t.Skipf("fanotify unavailable: %v", err)
	}
	defer g.Close()

	evs, err := ReadEvents(g)
	require.NoError(t, err)
	require.Empty(t, evs)
}
