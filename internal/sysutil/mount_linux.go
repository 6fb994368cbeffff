//go:build linux

package sysutil

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Mount is one line of /proc/mounts.
type Mount struct {
	Device string
	Point  string
	FSType string
}

// ParseMounts reads the /proc/mounts format. Octal escapes in mount points
// (\040 for a space) are decoded.
func ParseMounts(r io.Reader) ([]Mount, error) {
	var mounts []Mount
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts = append(mounts, Mount{
			Device: fields[0],
			Point:  unescapeMount(fields[1]),
			FSType: fields[2],
		})
	}
	return mounts, scanner.Err()
}

func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && isOctal(s[i+1]) && isOctal(s[i+2]) && isOctal(s[i+3]) {
			b.WriteByte((s[i+1]-'0')<<6 | (s[i+2]-'0')<<3 | (s[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }

// ReadMounts returns the current mount table.
func ReadMounts() ([]Mount, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseMounts(f)
}

// WaitForMount polls the mount table until devPath shows up and returns its
// mount point. udev reports a partition before it is mounted, hence the wait.
func WaitForMount(ctx context.Context, devPath string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		mounts, err := ReadMounts()
		if err != nil {
			return "", err
		}
		for _, m := range mounts {
			if m.Device == devPath {
				return m.Point, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%s not mounted: %w", devPath, ctx.Err())
		case <-tick.C:
		}
	}
}
