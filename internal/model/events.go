package model

import "time"

// MountEvent reports a block partition appearing or disappearing.
type MountEvent struct {
	Action     string // "add", "remove"
	DevicePath string // e.g., /dev/sdb1
	MountPoint string // e.g., /media/usb, empty on remove
	Vendor     string
	Product    string
	Serial     string
	TimeStamp  time.Time
}

// FileEvent is a decoded fanotify event after the agent resolved its file
// and process.
type FileEvent struct {
	PID       int32
	ProcName  string
	FilePath  string
	Mask      uint64
	Operation string // e.g., "OPEN|CLOSE_WRITE"
	Decision  string // "allow" or "deny" for permission events, empty otherwise
	Risk      string // set when the content inspector flagged the file
	TimeStamp time.Time
}
