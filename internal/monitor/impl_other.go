//go:build !linux

package monitor

func newMonitor(Config) (FileMonitor, error) { return nil, ErrUnsupported }
