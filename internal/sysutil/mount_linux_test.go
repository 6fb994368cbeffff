//go:build linux

package sysutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseMounts(t *testing.T) {
	in := `sysfs /sys sysfs rw,nosuid 0 0
/dev/sdb1 /media/usb\040stick vfat rw 0 0
broken-line
/dev/sda2 / ext4 rw,relatime 0 0
`
	mounts, err := ParseMounts(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, mounts, 3)
	require.Equal(t, Mount{Device: "/dev/sdb1", Point: "/media/usb stick", FSType: "vfat"}, mounts[1])
	require.Equal(t, "/", mounts[2].Point)
}

func TestUnescapeMount(t *testing.T) {
	require.Equal(t, "/plain", unescapeMount("/plain"))
	require.Equal(t, "/a\tb", unescapeMount(`/a\011b`))
	require.Equal(t, `/trailing\04`, unescapeMount(`/trailing\04`))
}

func TestWaitForMountTimeout(t *testing.T) {
	_, err := WaitForMount(context.Background(), "/dev/does-not-exist", 150*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
