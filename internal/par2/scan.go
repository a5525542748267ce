package par2

import (
	"bytes"
	"io"

	"example.com/par2rename/internal/common"
)

// SegmentKind tells what a scanned byte range is.
type SegmentKind uint8

const (
	// SegmentGap is a run of bytes that holds no packet magic.
	SegmentGap SegmentKind = iota
	// SegmentAnomaly is a magic sequence that did not validate. Data holds
	// the 8 magic bytes only.
	SegmentAnomaly
	// SegmentPacket is a checksum-verified packet.
	SegmentPacket
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentGap:
		return "gap"
	case SegmentAnomaly:
		return "anomaly"
	case SegmentPacket:
		return "packet"
	default:
		return "unknown"
	}
}

// Segment is one contiguous piece of the stream. Consecutive segments cover
// every byte read exactly once. Data aliases the scanner window.
type Segment struct {
	Kind   SegmentKind
	Offset int64
	Data   []byte
	Packet Packet
}

// Scanner walks a stream through a sliding window and splits it into gaps,
// anomalies and packets.
type Scanner struct {
	opts    ScanOptions
	win     *window
	pos     int
	started bool
	metrics *common.Metrics
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader, opts ScanOptions) *Scanner {
	opts = opts.withDefaults()
	return &Scanner{opts: opts, win: newWindow(r, opts.MaxBytes)}
}

// SetMetrics feeds byte, packet and anomaly counters into m.
func (s *Scanner) SetMetrics(m *common.Metrics) {
	s.metrics = m
}

// Offset returns the stream position of the next unconsumed byte.
func (s *Scanner) Offset() int64 {
	return s.win.start + int64(s.pos)
}

// Capped reports whether reading stopped at ScanOptions.MaxBytes rather than
// at the end of the source.
func (s *Scanner) Capped() bool {
	return s.win.capped
}

func (s *Scanner) refill(n int) error {
	if s.pos > 0 {
		s.win.discard(s.pos)
		s.pos = 0
	}
	return s.win.fill(n)
}

// Step returns the next segment, or io.EOF once the stream is consumed.
func (s *Scanner) Step() (Segment, error) {
	if !s.started {
		s.started = true
		if err := s.win.fill(s.opts.InitialWindow); err != nil {
			return Segment{}, err
		}
	}
	for {
		if s.pos >= s.opts.RefillSize && !s.win.eof {
			if err := s.refill(s.opts.RefillSize); err != nil {
				return Segment{}, err
			}
		}
		avail := s.win.buf[s.pos:]
		if len(avail) == 0 {
			if s.win.eof {
				return Segment{}, io.EOF
			}
			if err := s.refill(s.opts.RefillSize); err != nil {
				return Segment{}, err
			}
			continue
		}

		idx := bytes.Index(avail, magic)
		if idx < 0 {
			n := len(avail)
			if !s.win.eof {
				// keep a possible magic prefix for the next search
				n -= magicSize - 1
				if n <= 0 {
					if err := s.refill(s.opts.RefillSize); err != nil {
						return Segment{}, err
					}
					continue
				}
			}
			return s.emitGap(n), nil
		}
		if idx > 0 {
			return s.emitGap(idx), nil
		}

		pkt, status, need := probe(avail)
		switch status {
		case probeValid:
			pkt.Offset = s.Offset()
			s.pos += int(pkt.Length)
			if s.metrics != nil {
				s.metrics.AddPacket(int64(pkt.Length))
			}
			return Segment{Kind: SegmentPacket, Offset: pkt.Offset, Data: pkt.raw, Packet: pkt}, nil
		case probeNeedMore:
			if !s.win.eof && need <= uint64(s.opts.MaxPacketSize) {
				more := int(need) - len(avail)
				if more < s.opts.RefillSize {
					more = s.opts.RefillSize
				}
				if err := s.refill(more); err != nil {
					return Segment{}, err
				}
				continue
			}
		}
		return s.emitAnomaly(), nil
	}
}

func (s *Scanner) emitGap(n int) Segment {
	seg := Segment{Kind: SegmentGap, Offset: s.Offset(), Data: s.win.buf[s.pos : s.pos+n]}
	s.pos += n
	if s.metrics != nil {
		s.metrics.AddBytes(int64(n))
	}
	return seg
}

func (s *Scanner) emitAnomaly() Segment {
	seg := Segment{Kind: SegmentAnomaly, Offset: s.Offset(), Data: s.win.buf[s.pos : s.pos+magicSize]}
	s.pos += magicSize
	if s.metrics != nil {
		s.metrics.AddBytes(magicSize)
		s.metrics.IncAnomaly()
	}
	common.Debugf("unverified packet magic at offset %d", seg.Offset)
	return seg
}

// Next returns the next valid packet, skipping gaps and anomalies. The
// packet bytes are valid until the following call.
func (s *Scanner) Next() (Packet, error) {
	for {
		seg, err := s.Step()
		if err != nil {
			return Packet{}, err
		}
		if seg.Kind == SegmentPacket {
			return seg.Packet, nil
		}
	}
}

// ScanAll returns every valid packet in data, cloned.
func ScanAll(data []byte) []Packet {
	s := NewScanner(bytes.NewReader(data), ScanOptions{InitialWindow: len(data) + 1})
	var out []Packet
	for {
		pkt, err := s.Next()
		if err != nil {
			return out
		}
		out = append(out, pkt.Clone())
	}
}
