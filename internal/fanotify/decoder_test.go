//go:build linux

package fanotify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// pipeGroup wraps the read end of a pipe in a Group so the decoder can be
// exercised without CAP_SYS_ADMIN. It returns the write end.
func pipeGroup(t *testing.T, flags int) (*Group, int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC|flags))
	g := newGroup(p[0])
	t.Cleanup(func() {
		_ = g.Close()
		_ = unix.Close(p[1])
	})
	return g, p[1]
}

func TestDecoderConfig(t *testing.T) {
	_, err := NewDecoder(DecoderConfig{RecordsPerRead: -1})
	require.Error(t, err)

	d, err := NewDecoder(DecoderConfig{})
	require.NoError(t, err)
	require.Equal(t, DefaultRecordsPerRead, d.RecordsPerRead())

	d.SetRecordsPerRead(3)
	require.Equal(t, 3, d.RecordsPerRead())
	d.SetRecordsPerRead(0)
	require.Equal(t, DefaultRecordsPerRead, d.RecordsPerRead())

	_, err = NewDecoder(DecoderConfig{RecordsPerRead: MaxRecordsPerRead})
	require.NoError(t, err)
	_, err = NewDecoder(DecoderConfig{RecordsPerRead: MaxRecordsPerRead + 1})
	require.Error(t, err)
}

func TestReadOversizedBuffer(t *testing.T) {
	g, w := pipeGroup(t, 0)
	_, err := unix.Write(w, encodeAll(t, testEvent(unix.FAN_OPEN, NoFD, 1)))
	require.NoError(t, err)

	d, err := NewDecoder(DecoderConfig{})
	require.NoError(t, err)
	d.SetRecordsPerRead(math.MaxInt / 8)

	evs, err := d.Read(g)
	require.Nil(t, evs)
	require.ErrorIs(t, err, unix.ENOMEM)
	require.True(t, IsOp(err, OpRead))

	// Nothing was consumed; a sane size picks the record up.
	d.SetRecordsPerRead(1)
	evs, err = d.Read(g)
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestReadWholeRecords(t *testing.T) {
	g, w := pipeGroup(t, 0)
	buf := encodeAll(t,
		testEvent(unix.FAN_OPEN, NoFD, 10),
		testEvent(unix.FAN_ACCESS, NoFD, 11),
		testEvent(unix.FAN_CLOSE_NOWRITE, NoFD, 12),
	)
	_, err := unix.Write(w, buf)
	require.NoError(t, err)

	evs, err := ReadEvents(g)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	require.Equal(t, int32(10), evs[0].Pid)
	require.True(t, evs[1].Has(unix.FAN_ACCESS))
	require.Equal(t, uint64(unix.FAN_CLOSE_NOWRITE), evs[2].Mask)
}

func TestReadHonoursRecordsPerRead(t *testing.T) {
	g, w := pipeGroup(t, 0)
	buf := encodeAll(t,
		testEvent(unix.FAN_OPEN, NoFD, 1),
		testEvent(unix.FAN_OPEN, NoFD, 2),
		testEvent(unix.FAN_OPEN, NoFD, 3),
	)
	_, err := unix.Write(w, buf)
	require.NoError(t, err)

	d, err := NewDecoder(DecoderConfig{RecordsPerRead: 2})
	require.NoError(t, err)

	evs, err := d.Read(g)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	// The change applies to the next call.
	d.SetRecordsPerRead(10)
	evs, err = d.Read(g)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, int32(3), evs[0].Pid)
}

func TestReadWouldBlock(t *testing.T) {
	g, _ := pipeGroup(t, unix.O_NONBLOCK)
	evs, err := ReadEvents(g)
	require.NoError(t, err)
	require.NotNil(t, evs)
	require.Empty(t, evs)
}

func TestReadSetNonblock(t *testing.T) {
	g, _ := pipeGroup(t, 0)
	require.NoError(t, g.SetNonblock(true))
	evs, err := ReadEvents(g)
	require.NoError(t, err)
	require.Empty(t, evs)

	require.NoError(t, g.Close())
	err = g.SetNonblock(false)
	require.ErrorIs(t, err, unix.EBADF)
	require.True(t, IsOp(err, OpInit))
}

func TestReadPartialRecord(t *testing.T) {
	g, w := pipeGroup(t, 0)
	buf := encodeAll(t, testEvent(unix.FAN_OPEN, NoFD, 1))
	_, err := unix.Write(w, buf[:MetadataSize-4])
	require.NoError(t, err)

	_, err = ReadEvents(g)
	require.ErrorIs(t, err, ErrPartialRecord)
}

func TestReadEOF(t *testing.T) {
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	require.NoError(t, unix.Close(p[1]))
	g := newGroup(p[0])
	defer g.Close()

	evs, err := ReadEvents(g)
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestReadClosedGroup(t *testing.T) {
	g, _ := pipeGroup(t, 0)
	require.NoError(t, g.Close())

	_, err := ReadEvents(g)
	require.True(t, IsOp(err, OpRead))
	require.ErrorIs(t, err, unix.EBADF)
}

func TestReadErrorIsClassified(t *testing.T) {
	// The write end of a pipe is not readable.
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_CLOEXEC))
	defer unix.Close(p[0])
	g := newGroup(p[1])
	defer g.Close()

	_, err := ReadEvents(g)
	require.Error(t, err)
	require.True(t, IsOp(err, OpRead))
	require.ErrorIs(t, err, unix.EBADF)
}
