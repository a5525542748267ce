package par2

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"strings"
)

const (
	// HeaderSize is the fixed packet header: magic, length, checksum,
	// set id and type tag.
	HeaderSize = 64

	magicSize    = 8
	checksumFrom = 32

	mainSliceSizeOffset = 64
	mainFileCountOffset = 72

	fileDescIDOffset     = 64
	fileDescHashOffset   = 80
	fileDescHash16Offset = 96
	fileDescLengthOffset = 112
	fileDescNameOffset   = 120
)

var (
	magic = []byte("PAR2\x00PKT")

	tagMain     = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'M', 'a', 'i', 'n', 0, 0, 0, 0}
	tagFileDesc = [16]byte{'P', 'A', 'R', ' ', '2', '.', '0', 0, 'F', 'i', 'l', 'e', 'D', 'e', 's', 'c'}
)

// Magic returns a copy of the 8-byte packet signature.
func Magic() []byte {
	return append([]byte(nil), magic...)
}

// SetID identifies the logical recovery set a packet belongs to.
type SetID [16]byte

func (id SetID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether no set id has been recorded.
func (id SetID) IsZero() bool {
	return id == SetID{}
}

// Kind is the semantic class of a packet.
type Kind uint8

const (
	KindOther Kind = iota
	KindMain
	KindFileDescription
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindFileDescription:
		return "filedesc"
	default:
		return "other"
	}
}

// Classify maps a type tag to a Kind. Only exact matches are interpreted.
func Classify(tag [16]byte) Kind {
	switch tag {
	case tagMain:
		return KindMain
	case tagFileDesc:
		return KindFileDescription
	default:
		return KindOther
	}
}

// Packet is a checksum-verified view over one packet. The byte slices it
// exposes alias the scanner window and are only valid until the scanner is
// stepped again.
type Packet struct {
	Offset   int64
	Length   uint64
	Checksum [16]byte
	SetID    SetID
	Type     [16]byte
	Kind     Kind

	raw []byte
}

// Bytes returns the full packet including the header.
func (p Packet) Bytes() []byte {
	return p.raw
}

// Body returns the checksummed region, bytes [32, Length).
func (p Packet) Body() []byte {
	if len(p.raw) < checksumFrom {
		return nil
	}
	return p.raw[checksumFrom:]
}

// TagName returns the type tag without the "PAR 2.0" prefix and padding.
func (p Packet) TagName() string {
	name := p.Type[:]
	if bytes.HasPrefix(name, []byte("PAR 2.0\x00")) {
		name = name[8:]
	}
	return strings.TrimRight(string(name), "\x00")
}

// Clone returns a packet whose bytes no longer alias the scanner window.
func (p Packet) Clone() Packet {
	p.raw = append([]byte(nil), p.raw...)
	return p
}

// FileCount returns the number of recoverable source files declared by a
// Main packet.
func (p Packet) FileCount() (uint32, bool) {
	if p.Kind != KindMain || len(p.raw) < mainFileCountOffset+4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(p.raw[mainFileCountOffset:]), true
}

// SliceSize returns the slice size declared by a Main packet.
func (p Packet) SliceSize() (uint64, bool) {
	if p.Kind != KindMain || len(p.raw) < mainSliceSizeOffset+8 {
		return 0, false
	}
	return binary.LittleEndian.Uint64(p.raw[mainSliceSizeOffset:]), true
}

// FileDescription holds the fields of a FileDesc packet body.
type FileDescription struct {
	FileID  [16]byte
	Hash    [16]byte
	Hash16k [16]byte
	Length  uint64
	Name    string
}

// FileName returns the source file name carried by a FileDesc packet.
func (p Packet) FileName() (string, bool) {
	if p.Kind != KindFileDescription || len(p.raw) < fileDescNameOffset {
		return "", false
	}
	end := len(p.raw)
	for end > fileDescNameOffset && p.raw[end-1] == 0 {
		end--
	}
	return string(p.raw[fileDescNameOffset:end]), true
}

// FileDescription decodes the fixed fields and the name of a FileDesc packet.
func (p Packet) FileDescription() (FileDescription, bool) {
	name, ok := p.FileName()
	if !ok {
		return FileDescription{}, false
	}
	var fd FileDescription
	copy(fd.FileID[:], p.raw[fileDescIDOffset:fileDescHashOffset])
	copy(fd.Hash[:], p.raw[fileDescHashOffset:fileDescHash16Offset])
	copy(fd.Hash16k[:], p.raw[fileDescHash16Offset:fileDescLengthOffset])
	fd.Length = binary.LittleEndian.Uint64(p.raw[fileDescLengthOffset:fileDescNameOffset])
	fd.Name = name
	return fd, true
}

type probeStatus int

const (
	probeValid probeStatus = iota
	probeNeedMore
	probeAnomaly
)

// probe validates the packet whose magic starts at buf[0]. For
// probeNeedMore the returned count is the number of bytes required from
// buf[0] to decide.
func probe(buf []byte) (Packet, probeStatus, uint64) {
	if len(buf) < HeaderSize {
		return Packet{}, probeNeedMore, HeaderSize
	}
	length := binary.LittleEndian.Uint64(buf[8:16])
	if length < HeaderSize {
		return Packet{}, probeAnomaly, 0
	}
	if length > uint64(len(buf)) {
		return Packet{}, probeNeedMore, length
	}
	raw := buf[:length]
	sum := md5.Sum(raw[checksumFrom:])
	if !bytes.Equal(sum[:], raw[16:32]) {
		return Packet{}, probeAnomaly, 0
	}
	pkt := Packet{Length: length, raw: raw}
	copy(pkt.Checksum[:], raw[16:32])
	copy(pkt.SetID[:], raw[32:48])
	copy(pkt.Type[:], raw[48:64])
	pkt.Kind = Classify(pkt.Type)
	return pkt, probeValid, 0
}
