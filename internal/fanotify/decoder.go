//go:build linux

package fanotify

import (
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// DefaultRecordsPerRead sizes the read buffer when DecoderConfig leaves it unset.
const DefaultRecordsPerRead = 250

// MaxRecordsPerRead caps the read buffer at 1.5 MiB.
const MaxRecordsPerRead = 1 << 16

// DecoderConfig configures a Decoder.
type DecoderConfig struct {
	// RecordsPerRead is how many fixed-size records one read may return.
	RecordsPerRead int
}

// DefaultDecoderConfig returns the configuration used by ReadEvents.
func DefaultDecoderConfig() DecoderConfig {
	return DecoderConfig{RecordsPerRead: DefaultRecordsPerRead}
}

func (c DecoderConfig) Validate() error {
	if c.RecordsPerRead < 0 {
		return fmt.Errorf("records per read must not be negative, got %d", c.RecordsPerRead)
	}
	if c.RecordsPerRead > MaxRecordsPerRead {
		return fmt.Errorf("records per read must not exceed %d, got %d", MaxRecordsPerRead, c.RecordsPerRead)
	}
	return nil
}

// Decoder reads event batches from a Group. Each Read is a single read(2)
// into a buffer private to that call, so one Decoder may serve several
// goroutines.
type Decoder struct {
	records atomic.Int64
}

// NewDecoder returns a Decoder for cfg. A zero RecordsPerRead means
// DefaultRecordsPerRead.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Decoder{}
	d.SetRecordsPerRead(cfg.RecordsPerRead)
	return d, nil
}

// SetRecordsPerRead resizes the buffer used from the next Read on. Values
// below one restore the default; values above MaxRecordsPerRead make Read
// fail with ENOMEM.
func (d *Decoder) SetRecordsPerRead(n int) {
	if n < 1 {
		n = DefaultRecordsPerRead
	}
	d.records.Store(int64(n))
}

// RecordsPerRead returns the current buffer size in records.
func (d *Decoder) RecordsPerRead() int {
	return int(d.records.Load())
}

// Read performs one read on g and decodes whatever whole records it
// returned. A non-blocking group with nothing queued yields an empty batch
// and no error. Every returned event owns its File.
func (d *Decoder) Read(g *Group) ([]Event, error) {
	fd, err := g.fdFor(OpRead)
	if err != nil {
		return nil, err
	}
	records := d.RecordsPerRead()
	if records > MaxRecordsPerRead {
		return nil, Classify(unix.ENOMEM, OpRead)
	}
	buf := make([]byte, MetadataSize*records)
	n, err := unix.Read(fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return []Event{}, nil
		}
		return nil, classifyErr(err, OpRead)
	}
	return DecodeEvents(buf[:n])
}

var defaultDecoder, _ = NewDecoder(DefaultDecoderConfig())

// ReadEvents reads one batch from g with the default buffer size.
func ReadEvents(g *Group) ([]Event, error) {
	return defaultDecoder.Read(g)
}
