package par2

import (
	"errors"
	"io"
)

const (
	DefaultInitialWindow = 2 << 20
	DefaultRefillSize    = 1 << 20
	DefaultMaxPacketSize = 64 << 20
)

// ScanOptions sizes the sliding window used by scans and rewrites.
type ScanOptions struct {
	// InitialWindow is the number of bytes loaded before the first packet
	// search.
	InitialWindow int
	// RefillSize is both the watermark and the refill step: once the
	// cursor passes it, consumed bytes are dropped and this many more are
	// read.
	RefillSize int
	// MaxPacketSize bounds how far the window may grow to validate a
	// single packet. Larger declared lengths are treated as anomalies.
	MaxPacketSize int
	// MaxBytes stops reading from the source after this many bytes. Zero
	// reads to the end.
	MaxBytes int64
}

// DefaultScanOptions returns the 2 MiB / 1 MiB window used by the indexer
// and the rewriter.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		InitialWindow: DefaultInitialWindow,
		RefillSize:    DefaultRefillSize,
		MaxPacketSize: DefaultMaxPacketSize,
	}
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.InitialWindow <= 0 {
		o.InitialWindow = DefaultInitialWindow
	}
	if o.RefillSize <= 0 {
		o.RefillSize = DefaultRefillSize
	}
	if o.MaxPacketSize < HeaderSize {
		o.MaxPacketSize = DefaultMaxPacketSize
	}
	if o.MaxBytes < 0 {
		o.MaxBytes = 0
	}
	return o
}

// window is a slab buffer over a sequential reader. buf[0] sits at stream
// offset start; bytes before a discard point are gone for good.
type window struct {
	r      io.Reader
	buf    []byte
	start  int64
	read   int64
	limit  int64
	eof    bool
	capped bool
}

func newWindow(r io.Reader, limit int64) *window {
	return &window{r: r, limit: limit}
}

// fill appends up to n bytes from the reader.
func (w *window) fill(n int) error {
	if w.eof || n <= 0 {
		return nil
	}
	if w.limit > 0 {
		remain := w.limit - w.read
		if remain <= 0 {
			w.eof = true
			w.capped = true
			return nil
		}
		if int64(n) > remain {
			n = int(remain)
		}
	}
	off := len(w.buf)
	if cap(w.buf)-off < n {
		grown := make([]byte, off, off+n)
		copy(grown, w.buf)
		w.buf = grown
	}
	got, err := io.ReadFull(w.r, w.buf[off:off+n])
	w.buf = w.buf[:off+got]
	w.read += int64(got)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			w.eof = true
			return nil
		}
		return err
	}
	return nil
}

// discard drops buf[:pos] and keeps the unconsumed tail at the front.
func (w *window) discard(pos int) {
	if pos <= 0 {
		return
	}
	if pos > len(w.buf) {
		pos = len(w.buf)
	}
	n := copy(w.buf, w.buf[pos:])
	w.buf = w.buf[:n]
	w.start += int64(pos)
}
