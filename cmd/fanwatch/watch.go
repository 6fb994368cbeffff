//go:build linux

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/Hara602/fanwatch/internal/journal"
	"github.com/Hara602/fanwatch/internal/model"
	"github.com/Hara602/fanwatch/internal/monitor"
	"github.com/Hara602/fanwatch/internal/sysutil"
	"github.com/Hara602/fanwatch/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	monitor      monitor.Config
	paths        []string
	journalPath  string
	followMounts bool
}

func watchCmd() *cobra.Command {
	opts := watchOptions{monitor: monitor.DefaultConfig()}
	c := &cobra.Command{
		Use:   "watch",
		Short: "Mark paths and log the events they produce",
		RunE: func(c *cobra.Command, args []string) error {
			opts.paths = append(opts.paths, args...)
			return runWatch(c.Context(), opts)
		},
	}
	f := c.Flags()
	f.StringArrayVar(&opts.paths, "path", nil, "path to mark (repeatable)")
	f.StringSliceVar(&opts.monitor.Events, "mask", opts.monitor.Events, "events to report, e.g. OPEN,CLOSE_WRITE,OPEN_PERM")
	f.StringVar(&opts.monitor.Class, "class", opts.monitor.Class, "notification class: notif, content or pre-content")
	f.IntVar(&opts.monitor.RecordsPerRead, "records-per-read", opts.monitor.RecordsPerRead, "event records per read (0 for default)")
	f.BoolVar(&opts.monitor.Filesystem, "filesystem", false, "mark the whole filesystem of each path")
	f.StringArrayVar(&opts.monitor.Deny, "deny", nil, "glob of paths to deny on permission events (repeatable)")
	f.BoolVar(&opts.monitor.Inspect, "inspect", opts.monitor.Inspect, "check written files for extension masquerading")
	f.BoolVar(&opts.monitor.Quarantine, "quarantine", false, "rename HIGH risk masquerading files to *"+monitor.QuarantineSuffix)
	f.DurationVar(&opts.monitor.PollInterval, "poll", opts.monitor.PollInterval, "poll interval of the event loop")
	f.StringVar(&opts.journalPath, "journal", "", "sqlite file to journal events into")
	f.BoolVar(&opts.followMounts, "follow-mounts", false, "also mark partitions as they get mounted")
	return c
}

func runWatch(ctx context.Context, opts watchOptions) error {
	if os.Geteuid() != 0 {
		return errors.New("must run as root (fanotify needs CAP_SYS_ADMIN)")
	}
	if len(opts.paths) == 0 && !opts.followMounts {
		return errors.New("nothing to watch: pass --path or --follow-mounts")
	}

	mon, err := monitor.New(opts.monitor)
	if err != nil {
		return err
	}
	defer mon.Stop()
	for _, p := range opts.paths {
		if err := mon.AddWatch(p); err != nil {
			return err
		}
		sysutil.Log.Info("monitoring started", zap.String("path", p))
	}

	var jr *journal.Journal
	if opts.journalPath != "" {
		jr, err = journal.Open(opts.journalPath)
		if err != nil {
			return err
		}
		defer jr.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	mon.Start()
	g.Go(func() error { return logEvents(ctx, mon, jr) })

	if opts.followMounts {
		mw := watcher.New()
		mounts, err := mw.Start()
		if err != nil {
			return err
		}
		defer mw.Stop()
		g.Go(func() error { return followMounts(ctx, mon, mounts) })
	}

	err = g.Wait()
	sysutil.Log.Info("shutting down")
	return err
}

func logEvents(ctx context.Context, mon monitor.FileMonitor, jr *journal.Journal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-mon.Errors():
			sysutil.Log.Error("monitor", zap.Error(err))
		case ev := <-mon.Events():
			fields := []zap.Field{
				zap.String("op", ev.Operation),
				zap.String("file", ev.FilePath),
				zap.String("process", ev.ProcName),
				zap.Int32("pid", ev.PID),
			}
			if ev.Decision != "" {
				fields = append(fields, zap.String("decision", ev.Decision))
			}
			if ev.Risk != "" {
				fields = append(fields, zap.String("risk", ev.Risk))
			}
			sysutil.Log.Info("file activity", fields...)
			if jr != nil {
				if err := jr.Record(ctx, ev); err != nil && ctx.Err() == nil {
					return err
				}
			}
		}
	}
}

func followMounts(ctx context.Context, mon monitor.FileMonitor, mounts <-chan model.MountEvent) error {
	byDevice := make(map[string]string)
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-mounts:
			switch m.Action {
			case "add":
				if err := mon.AddWatch(m.MountPoint); err != nil {
					sysutil.Log.Error("failed to watch mount", zap.String("mount", m.MountPoint), zap.Error(err))
					continue
				}
				byDevice[m.DevicePath] = m.MountPoint
				sysutil.Log.Info("volume mounted, monitoring",
					zap.String("dev", m.DevicePath),
					zap.String("mount", m.MountPoint),
					zap.String("vendor", m.Vendor),
					zap.String("product", m.Product),
					zap.String("serial", m.Serial))
			case "remove":
				mp, ok := byDevice[m.DevicePath]
				if !ok {
					continue
				}
				delete(byDevice, m.DevicePath)
				// The mount is usually gone already, taking the mark with it.
				if err := mon.RemoveWatch(mp); err != nil {
					sysutil.Log.Debug("unwatch removed volume", zap.String("mount", mp), zap.Error(err))
				}
				sysutil.Log.Info("volume removed", zap.String("dev", m.DevicePath))
			}
		}
	}
}
