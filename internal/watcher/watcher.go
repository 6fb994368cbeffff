package watcher

import (
	"errors"

	"github.com/Hara602/fanwatch/internal/model"
)

// MountWatcher reports block partitions as they get mounted or removed.
type MountWatcher interface {
	Start() (<-chan model.MountEvent, error)
	Stop()
}

var ErrUnsupported = errors.New("mount watching is only available on linux")

func New() MountWatcher {
	return newWatcher()
}
