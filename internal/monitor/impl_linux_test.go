//go:build linux

package monitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/fanwatch/internal/fanotify"
	"github.com/Hara602/fanwatch/internal/model"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestNewRejectsBadConfig(t *testing.T) {
	c := DefaultConfig()
	c.Class = "bogus"
	_, err := New(c)
	require.Error(t, err)

	c = DefaultConfig()
	c.Events = []string{"NOT_AN_EVENT"}
	_, err = New(c)
	require.Error(t, err)

	c = DefaultConfig()
	c.Deny = []string{"*.exe"}
	_, err = New(c)
	require.ErrorContains(t, err, "content")
}

func TestMonitorReportsOtherProcess(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("fanotify_init needs CAP_SYS_ADMIN")
	}
	dir := t.TempDir()
	probe := filepath.Join(dir, "probe")
	require.NoError(t, os.WriteFile(probe, []byte("data"), 0o644))

	c := DefaultConfig()
	c.Events = []string{"OPEN"}
	c.Inspect = false
	m, err := New(c)
	if fanotify.IsOp(err, fanotify.OpInit) {
		t.Skipf("fanotify unavailable: %v", err)
	}
	require.NoError(t, err)
	defer m.Stop()
	require.NoError(t, m.AddWatch(probe))
	m.Start()

	// Opens by this process are filtered out, so use a child.
	pid, _, err := forkCat(probe)
	require.NoError(t, err)

	select {
	case ev := <-m.Events():
		require.Equal(t, pid, ev.PID)
		require.NotZero(t, ev.Mask&unix.FAN_OPEN)
		require.Contains(t, ev.Operation, "OPEN")
	case err := <-m.Errors():
		t.Fatalf("monitor error: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}

	require.NoError(t, m.RemoveWatch(probe))
	require.Error(t, m.RemoveWatch(probe))
}

// forkCat runs cat on path and reports whether it exited successfully.
func forkCat(path string) (int32, bool, error) {
	p, err := os.StartProcess("/bin/cat", []string{"cat", path}, &os.ProcAttr{})
	if err != nil {
		return 0, false, err
	}
	state, err := p.Wait()
	if err != nil {
		return 0, false, err
	}
	return int32(p.Pid), state.Success(), nil
}

func TestMonitorPermissionDecisions(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("fanotify_init needs CAP_SYS_ADMIN")
	}
	dir := t.TempDir()
	secret := filepath.Join(dir, "key.secret")
	plain := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(secret, []byte("s"), 0o644))
	require.NoError(t, os.WriteFile(plain, []byte("p"), 0o644))

	c := DefaultConfig()
	c.Class = "content"
	c.Events = []string{"OPEN_PERM"}
	c.Deny = []string{"*.secret"}
	c.Inspect = false
	m, err := New(c)
	if fanotify.IsOp(err, fanotify.OpInit) {
		t.Skipf("fanotify unavailable: %v", err)
	}
	require.NoError(t, err)
	defer m.Stop()
	require.NoError(t, m.AddWatch(secret))
	require.NoError(t, m.AddWatch(plain))
	m.Start()

	next := func() model.FileEvent {
		t.Helper()
		select {
		case ev := <-m.Events():
			return ev
		case err := <-m.Errors():
			t.Fatalf("monitor error: %v", err)
		case <-time.After(5 * time.Second):
			t.Fatal("no event")
		}
		return model.FileEvent{}
	}

	// Our own opens are allowed without a decision being reported.
	b, err := os.ReadFile(secret)
	require.NoError(t, err)
	require.Equal(t, "s", string(b))

	pid, ok, err := forkCat(secret)
	require.NoError(t, err)
	require.False(t, ok, "cat of a denied file succeeded")
	ev := next()
	require.Equal(t, pid, ev.PID)
	require.Equal(t, "deny", ev.Decision)
	want, err := filepath.EvalSymlinks(secret)
	require.NoError(t, err)
	require.Equal(t, want, ev.FilePath)

	pid, ok, err = forkCat(plain)
	require.NoError(t, err)
	require.True(t, ok)
	ev = next()
	require.Equal(t, pid, ev.PID)
	require.Equal(t, "allow", ev.Decision)
	require.NotZero(t, ev.Mask&unix.FAN_OPEN_PERM)
}
