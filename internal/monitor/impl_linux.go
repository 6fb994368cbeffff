//go:build linux

package monitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/fanwatch/internal/analysis"
	"github.com/Hara602/fanwatch/internal/fanotify"
	"github.com/Hara602/fanwatch/internal/model"
	"github.com/Hara602/fanwatch/internal/sysutil"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

type fanotifyMonitor struct {
	cfg       Config
	mask      uint64
	group     *fanotify.Group
	decoder   *fanotify.Decoder
	inspector *analysis.TypeInspector
	self      int32

	events chan model.FileEvent
	errs   chan error
	stop   chan struct{}
	done   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once

	mu      sync.Mutex
	watches map[string]uint // path -> FAN_MARK_* object flag it was marked with
}

func newMonitor(cfg Config) (FileMonitor, error) {
	class, err := fanotify.ParseClass(cfg.Class)
	if err != nil {
		return nil, err
	}
	mask, err := fanotify.ParseMask(cfg.Events)
	if err != nil {
		return nil, err
	}
	if len(cfg.Deny) > 0 && class == unix.FAN_CLASS_NOTIF {
		return nil, errors.New("deny patterns need a content or pre-content group")
	}
	decoder, err := fanotify.NewDecoder(fanotify.DecoderConfig{RecordsPerRead: cfg.RecordsPerRead})
	if err != nil {
		return nil, err
	}

	flags := class |
		unix.FAN_CLOEXEC |
		unix.FAN_NONBLOCK |
		unix.FAN_UNLIMITED_QUEUE |
		unix.FAN_UNLIMITED_MARKS
	group, err := fanotify.Open(flags, unix.O_RDONLY|unix.O_LARGEFILE|unix.O_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("fanotify init failed: %w", err)
	}

	m := &fanotifyMonitor{
		cfg:     cfg,
		mask:    mask,
		group:   group,
		decoder: decoder,
		self:    int32(os.Getpid()),
		events:  make(chan model.FileEvent, cfg.Buffer),
		errs:    make(chan error, 16),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		watches: make(map[string]uint),
	}
	if cfg.Inspect {
		m.inspector = analysis.NewTypeInspector()
	}
	return m, nil
}

func (f *fanotifyMonitor) Start() {
	f.startOnce.Do(func() { go f.run() })
}

// run polls with a timeout so Stop is noticed even when nothing happens.
func (f *fanotifyMonitor) run() {
	defer close(f.done)
	fds := []unix.PollFd{{Fd: int32(f.group.Fd()), Events: unix.POLLIN}}
	timeout := int(f.cfg.PollInterval / time.Millisecond)
	for {
		select {
		case <-f.stop:
			return
		default:
		}
		n, err := unix.Poll(fds, timeout)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			f.report(fmt.Errorf("poll fanotify group: %w", err))
			return
		}
		if n == 0 {
			continue
		}
		evs, err := f.decoder.Read(f.group)
		if err != nil {
			if errors.Is(err, unix.EBADF) {
				return
			}
			f.report(err)
			continue
		}
		for _, ev := range evs {
			f.handle(ev)
		}
	}
}

func (f *fanotifyMonitor) handle(ev fanotify.Event) {
	defer func() {
		if err := ev.File.Release(); err != nil {
			f.report(fmt.Errorf("release event descriptor: %w", err))
		}
	}()

	if ev.Overflow() {
		sysutil.Log.Warn("fanotify queue overflowed, events were dropped")
		f.emit(model.FileEvent{Mask: ev.Mask, Operation: fanotify.MaskString(ev.Mask), TimeStamp: time.Now()})
		return
	}

	// Our own file accesses must never wait on ourselves.
	if ev.Pid == f.self {
		if ev.Permission() {
			f.respond(ev, true)
		}
		return
	}

	path, err := ev.File.Path()
	if err != nil {
		sysutil.Log.Debug("cannot resolve event path", zap.Error(err))
		path = "unknown"
	}
	out := model.FileEvent{
		PID:       ev.Pid,
		ProcName:  getProcName(int(ev.Pid)),
		FilePath:  path,
		Mask:      ev.Mask,
		Operation: fanotify.MaskString(ev.Mask),
		TimeStamp: time.Now(),
	}

	if ev.Permission() {
		allow := !matchAny(f.cfg.Deny, path)
		f.respond(ev, allow)
		out.Decision = "allow"
		if !allow {
			out.Decision = "deny"
		}
	}

	if f.inspector != nil && ev.Has(unix.FAN_CLOSE_WRITE) {
		result, err := f.inspector.Inspect(path, ev.File)
		if err != nil {
			sysutil.LogSugar.Infof("filetype inspect failed: %s, err: %v", path, err)
		} else if result.IsMasquerade {
			sysutil.Log.Warn("masquerading file",
				zap.String("path", path),
				zap.String("risk", result.RiskLevel),
				zap.String("detail", result.Message))
			out.Risk = result.RiskLevel
			if f.cfg.Quarantine && result.RiskLevel == analysis.RiskHigh {
				if dst, err := quarantine(path); err != nil {
					f.report(fmt.Errorf("quarantine %s: %w", path, err))
				} else {
					sysutil.Log.Warn("file quarantined", zap.String("path", dst))
					out.Decision = "quarantine"
				}
			}
		}
	}

	f.emit(out)
}

func (f *fanotifyMonitor) respond(ev fanotify.Event, allow bool) {
	if err := f.group.Respond(ev, allow); err != nil {
		f.report(fmt.Errorf("respond to pid %d: %w", ev.Pid, err))
	}
}

func (f *fanotifyMonitor) emit(ev model.FileEvent) {
	select {
	case f.events <- ev:
	case <-f.stop:
	}
}

// report hands err to Errors without ever blocking the event loop.
func (f *fanotifyMonitor) report(err error) {
	select {
	case f.errs <- err:
	default:
		sysutil.Log.Error("fanotify monitor error dropped", zap.Error(err))
	}
}

// AddWatch marks path. With Filesystem set it first tries to mark the whole
// filesystem and falls back to marking just the object, e.g. on kernels or
// filesystems that refuse FAN_MARK_FILESYSTEM.
func (f *fanotifyMonitor) AddWatch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var object uint
	if f.cfg.Filesystem {
		object = unix.FAN_MARK_FILESYSTEM
		err := f.group.AddMark(path, object, f.mask)
		if err == nil {
			f.watches[path] = object
			return nil
		}
		sysutil.Log.Warn("FAN_MARK_FILESYSTEM failed, falling back to object mark",
			zap.String("path", path), zap.Error(err))
		object = 0
	}
	if err := f.group.AddMark(path, object, f.mask); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	f.watches[path] = object
	return nil
}

func (f *fanotifyMonitor) RemoveWatch(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	object, ok := f.watches[path]
	if !ok {
		return fmt.Errorf("%s is not watched", path)
	}
	delete(f.watches, path)
	if err := f.group.RemoveMark(path, object, f.mask); err != nil {
		return fmt.Errorf("unwatch %s: %w", path, err)
	}
	return nil
}

func getProcName(pid int) string {
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		if os.IsNotExist(err) {
			return "process exited too fast"
		}
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}

// Stop ends the event loop and closes the group. Pending permission events
// are allowed by the kernel when the group goes away.
func (f *fanotifyMonitor) Stop() {
	f.stopOnce.Do(func() {
		close(f.stop)
		started := true
		f.startOnce.Do(func() { started = false })
		if started {
			<-f.done
		}
		if err := f.group.Close(); err != nil {
			sysutil.Log.Error("close fanotify group", zap.Error(err))
		}
	})
}

func (f *fanotifyMonitor) Events() <-chan model.FileEvent { return f.events }

func (f *fanotifyMonitor) Errors() <-chan error { return f.errs }
