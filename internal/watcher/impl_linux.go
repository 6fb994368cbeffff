//go:build linux

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/fanwatch/internal/model"
	"github.com/Hara602/fanwatch/internal/sysutil"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

// mountTimeout bounds how long a new partition may take to get mounted.
const mountTimeout = 3 * time.Second

// sysBlock lists every block device by name, linking into /sys/devices.
const sysBlock = "/sys/class/block"

type linuxWatcher struct {
	events chan model.MountEvent
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newWatcher() MountWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &linuxWatcher{
		events: make(chan model.MountEvent, 10),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (w *linuxWatcher) Start() (<-chan model.MountEvent, error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, err
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)
	quit := conn.Monitor(queue, errChan, nil)

	// Partitions mounted before we started never produce an add uevent.
	go w.scanMounted()

	go func() {
		defer conn.Close()
		for {
			select {
			case <-w.ctx.Done():
				close(quit)
				return
			case err := <-errChan:
				sysutil.Log.Debug("udev monitor error", zap.Error(err))
			case uevent := <-queue:
				w.handleUdevEvent(uevent)
			}
		}
	}()
	return w.events, nil
}

func (w *linuxWatcher) Stop() {
	w.once.Do(w.cancel)
}

func (w *linuxWatcher) handleUdevEvent(uevent netlink.UEvent) {
	if uevent.Env["SUBSYSTEM"] != "block" || uevent.Env["DEVTYPE"] != "partition" {
		return
	}
	devName := devicePath(uevent.Env["DEVNAME"])
	switch uevent.Action {
	case netlink.ADD:
		go w.handleAdd(devName, "/sys"+uevent.Env["DEVPATH"])
	case netlink.REMOVE:
		w.send(model.MountEvent{Action: "remove", DevicePath: devName, TimeStamp: time.Now()})
	}
}

func (w *linuxWatcher) handleAdd(devName, sysPath string) {
	mountPoint, err := sysutil.WaitForMount(w.ctx, devName, mountTimeout)
	if err != nil {
		sysutil.Log.Warn("partition detected but not mounted", zap.String("dev", devName), zap.Error(err))
		return
	}
	root := findDeviceRoot(sysPath)
	w.send(model.MountEvent{
		Action:     "add",
		DevicePath: devName,
		MountPoint: mountPoint,
		Vendor:     readAttr(filepath.Join(root, "idVendor")),
		Product:    readAttr(filepath.Join(root, "product")),
		Serial:     readAttr(filepath.Join(root, "serial")),
		TimeStamp:  time.Now(),
	})
}

func (w *linuxWatcher) scanMounted() {
	mounts, err := sysutil.ReadMounts()
	if err != nil {
		sysutil.Log.Error("failed to scan existing mounts", zap.Error(err))
		return
	}
	found := mountedUSB(mounts, sysBlock)
	for _, ev := range found {
		sysutil.Log.Info("found mounted USB partition",
			zap.String("dev", ev.DevicePath),
			zap.String("mount", ev.MountPoint))
		w.send(ev)
	}
	if len(found) == 0 {
		sysutil.Log.Debug("no USB partition mounted at startup")
	}
}

// mountedUSB returns an add event for every mount whose device sits on the
// USB bus, resolving device names through blockDir.
func mountedUSB(mounts []sysutil.Mount, blockDir string) []model.MountEvent {
	var out []model.MountEvent
	for _, m := range mounts {
		if !strings.HasPrefix(m.Device, "/dev/") || strings.HasPrefix(m.Device, "/dev/loop") {
			continue
		}
		sysPath, err := filepath.EvalSymlinks(filepath.Join(blockDir, filepath.Base(m.Device)))
		if err != nil {
			continue
		}
		root := findDeviceRoot(sysPath)
		if _, err := os.Stat(filepath.Join(root, "idVendor")); err != nil {
			continue
		}
		out = append(out, model.MountEvent{
			Action:     "add",
			DevicePath: m.Device,
			MountPoint: m.Point,
			Vendor:     readAttr(filepath.Join(root, "idVendor")),
			Product:    readAttr(filepath.Join(root, "product")),
			Serial:     readAttr(filepath.Join(root, "serial")),
			TimeStamp:  time.Now(),
		})
	}
	return out
}

func (w *linuxWatcher) send(ev model.MountEvent) {
	select {
	case w.events <- ev:
	case <-w.ctx.Done():
	}
}

func devicePath(name string) string {
	if name == "" || strings.HasPrefix(name, "/dev/") {
		return name
	}
	return "/dev/" + name
}

// findDeviceRoot walks up sysfs to the directory carrying idVendor, i.e. the
// USB device the partition belongs to. Non-USB disks return path itself.
func findDeviceRoot(path string) string {
	dir := path
	for i := 0; i < 10; i++ {
		dir = filepath.Dir(dir)
		if dir == "/" || dir == "." {
			break
		}
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir
		}
	}
	return path
}

func readAttr(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
