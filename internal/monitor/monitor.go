package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/fanwatch/internal/model"
)

type FileMonitor interface {
	Start()
	Stop()
	AddWatch(path string) error
	RemoveWatch(path string) error
	Events() <-chan model.FileEvent
	Errors() <-chan error
}

// ErrUnsupported is returned by New on platforms without fanotify.
var ErrUnsupported = errors.New("fanotify is only available on linux")

// Config controls the group the monitor opens and how it treats events.
type Config struct {
	Class          string   // "notif", "content" or "pre-content"
	Events         []string // event names, e.g. "OPEN", "CLOSE_WRITE", "OPEN_PERM"
	Filesystem     bool     // mark whole filesystems instead of single objects
	RecordsPerRead int      // decoder buffer size in records, 0 for the default
	Deny           []string // globs matched against path and base name of permission events
	Inspect        bool     // run the content inspector on CLOSE_WRITE
	Quarantine     bool     // rename HIGH risk masquerading files out of the way
	PollInterval   time.Duration
	Buffer         int // capacity of the Events channel
}

func DefaultConfig() Config {
	return Config{
		Class:        "notif",
		Events:       []string{"OPEN", "CLOSE_WRITE", "EVENT_ON_CHILD"},
		Inspect:      true,
		PollInterval: 200 * time.Millisecond,
		Buffer:       100,
	}
}

func (c Config) Validate() error {
	if len(c.Events) == 0 {
		return errors.New("no events selected")
	}
	if c.RecordsPerRead < 0 {
		return fmt.Errorf("records per read must not be negative, got %d", c.RecordsPerRead)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.Buffer < 0 {
		return fmt.Errorf("event buffer must not be negative, got %d", c.Buffer)
	}
	for _, p := range c.Deny {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("deny pattern %q: %w", p, err)
		}
	}
	return nil
}

func New(cfg Config) (FileMonitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newMonitor(cfg)
}

// matchAny reports whether path or its base name matches one of patterns.
func matchAny(patterns []string, path string) bool {
	base := filepath.Base(path)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
	}
	return false
}

// QuarantineSuffix is appended to the name of a quarantined file.
const QuarantineSuffix = ".quarantine"

// quarantine renames path so it no longer carries its misleading
// extension and returns the new name.
func quarantine(path string) (string, error) {
	dst := path + QuarantineSuffix
	if err := os.Rename(path, dst); err != nil {
		return "", err
	}
	return dst, nil
}
