//go:build !linux

package watcher

import "github.com/Hara602/fanwatch/internal/model"

type nopWatcher struct{}

func newWatcher() MountWatcher                             { return nopWatcher{} }
func (nopWatcher) Start() (<-chan model.MountEvent, error) { return nil, ErrUnsupported }
func (nopWatcher) Stop()                                   {}
