//go:build linux

package fanotify

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/unix"
)

// MetadataSize is the size of struct fanotify_event_metadata.
const MetadataSize = 24

// Event is one fanotify_event_metadata record.
type Event struct {
	EventLen    uint32
	Version     uint8
	Reserved    uint8
	MetadataLen uint16
	Mask        uint64
	// File is owned by whoever receives the event and must be released.
	File *Descriptor
	Pid  int32
}

// Has reports whether all bits of mask fired.
func (e Event) Has(mask uint64) bool {
	return e.Mask&mask == mask
}

// Overflow reports whether the kernel dropped events after this one.
func (e Event) Overflow() bool {
	return e.Mask&unix.FAN_Q_OVERFLOW != 0
}

// Permission reports whether the kernel waits for a Respond on this event.
func (e Event) Permission() bool {
	return e.Mask&permissionEvents != 0
}

const permissionEvents = unix.FAN_OPEN_PERM | unix.FAN_ACCESS_PERM | unix.FAN_OPEN_EXEC_PERM

func (e Event) String() string {
	return fmt.Sprintf("%s pid=%d %s", MaskString(e.Mask), e.Pid, e.File)
}

// rawMetadata mirrors the kernel layout field for field.
type rawMetadata struct {
	EventLen    uint32
	Vers        uint8
	Reserved    uint8
	MetadataLen uint16
	Mask        uint64
	Fd          int32
	Pid         int32
}

// The kernel writes the metadata in host byte order.
var packOpts = struc.Options{Order: binary.NativeEndian}

// DecodeEvents parses buf as a sequence of fixed-size event records. buf
// must hold whole records only, each with the expected version and length.
// On any failure the descriptors of every record validated so far are
// released and an error wrapping ErrMalformed is returned.
func DecodeEvents(buf []byte) ([]Event, error) {
	whole := len(buf) - len(buf)%MetadataSize
	events := make([]Event, 0, whole/MetadataSize)
	r := bytes.NewReader(buf[:whole])
	for off := 0; off < whole; off += MetadataSize {
		var raw rawMetadata
		if err := struc.UnpackWithOptions(r, &raw, &packOpts); err != nil {
			releaseAll(events)
			return nil, fmt.Errorf("%w: record at offset %d: %v", ErrMalformed, off, err)
		}
		if raw.Vers != unix.FANOTIFY_METADATA_VERSION {
			releaseAll(events)
			return nil, fmt.Errorf("%w: record at offset %d has version %d, want %d",
				ErrVersionMismatch, off, raw.Vers, unix.FANOTIFY_METADATA_VERSION)
		}
		if raw.EventLen != MetadataSize || raw.MetadataLen != MetadataSize {
			releaseAll(events)
			return nil, fmt.Errorf("%w: record at offset %d has event_len %d, metadata_len %d",
				ErrRecordLength, off, raw.EventLen, raw.MetadataLen)
		}
		events = append(events, Event{
			EventLen:    raw.EventLen,
			Version:     raw.Vers,
			Reserved:    raw.Reserved,
			MetadataLen: raw.MetadataLen,
			Mask:        raw.Mask,
			File:        newDescriptor(raw.Fd),
			Pid:         raw.Pid,
		})
	}
	if whole != len(buf) {
		releaseAll(events)
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d",
			ErrPartialRecord, len(buf), MetadataSize)
	}
	return events, nil
}

// EncodeEvent packs ev in the kernel layout, the inverse of DecodeEvents
// for a single record.
func EncodeEvent(ev Event) ([]byte, error) {
	raw := rawMetadata{
		EventLen:    ev.EventLen,
		Vers:        ev.Version,
		Reserved:    ev.Reserved,
		MetadataLen: ev.MetadataLen,
		Mask:        ev.Mask,
		Fd:          int32(ev.File.Fd()),
		Pid:         ev.Pid,
	}
	var out bytes.Buffer
	out.Grow(MetadataSize)
	if err := struc.PackWithOptions(&out, &raw, &packOpts); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func releaseAll(events []Event) {
	for _, ev := range events {
		_ = ev.File.Release()
	}
}
