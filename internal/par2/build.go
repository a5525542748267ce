package par2

import (
	"crypto/md5"
	"encoding/binary"
)

// TypeTag returns the 16-byte tag "PAR 2.0\0<name>" padded with NULs.
func TypeTag(name string) [16]byte {
	var tag [16]byte
	copy(tag[:], "PAR 2.0\x00")
	copy(tag[8:], name)
	return tag
}

func padLen(n int) int {
	return (n + 3) &^ 3
}

// BuildPacket frames body as a packet of the given set and type. The body
// is NUL padded to a multiple of 4 and the checksum is filled in.
func BuildPacket(setID SetID, tag [16]byte, body []byte) []byte {
	length := HeaderSize + padLen(len(body))
	raw := make([]byte, length)
	copy(raw, magic)
	binary.LittleEndian.PutUint64(raw[8:16], uint64(length))
	copy(raw[32:48], setID[:])
	copy(raw[48:64], tag[:])
	copy(raw[HeaderSize:], body)
	seal(raw)
	return raw
}

func seal(raw []byte) {
	sum := md5.Sum(raw[checksumFrom:])
	copy(raw[16:32], sum[:])
}

func mainBody(sliceSize uint64, fileIDs [][16]byte) []byte {
	body := make([]byte, 12+16*len(fileIDs))
	binary.LittleEndian.PutUint64(body[0:8], sliceSize)
	binary.LittleEndian.PutUint32(body[8:12], uint32(len(fileIDs)))
	for i, id := range fileIDs {
		copy(body[12+16*i:], id[:])
	}
	return body
}

// MainSetID derives the set id of a recovery set from its Main packet body.
func MainSetID(sliceSize uint64, fileIDs [][16]byte) SetID {
	return SetID(md5.Sum(mainBody(sliceSize, fileIDs)))
}

// BuildMainPacket returns a Main packet declaring fileIDs as the recoverable
// files of the set.
func BuildMainPacket(setID SetID, sliceSize uint64, fileIDs [][16]byte) []byte {
	return BuildPacket(setID, tagMain, mainBody(sliceSize, fileIDs))
}

// FileID derives a source file id from its 16k hash, length and name.
func FileID(hash16k [16]byte, length uint64, name string) [16]byte {
	buf := make([]byte, 0, 24+len(name))
	buf = append(buf, hash16k[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, length)
	buf = append(buf, name...)
	return md5.Sum(buf)
}

// BuildFileDescPacket returns a FileDesc packet for fd.
func BuildFileDescPacket(setID SetID, fd FileDescription) []byte {
	body := make([]byte, fileDescNameOffset-HeaderSize+len(fd.Name))
	copy(body[0:16], fd.FileID[:])
	copy(body[16:32], fd.Hash[:])
	copy(body[32:48], fd.Hash16k[:])
	binary.LittleEndian.PutUint64(body[48:56], fd.Length)
	copy(body[56:], fd.Name)
	return BuildPacket(setID, tagFileDesc, body)
}

// BuildCreatorPacket returns a Creator packet naming the producing client.
func BuildCreatorPacket(setID SetID, creator string) []byte {
	return BuildPacket(setID, TypeTag("Creator"), []byte(creator))
}

// RenamePacket rebuilds a FileDesc packet with a new name: the fixed
// 120-byte prefix is kept, the name is NUL padded to a multiple of 4 and
// the length and checksum are recomputed.
func RenamePacket(pkt Packet, name string) []byte {
	length := fileDescNameOffset + padLen(len(name))
	raw := make([]byte, length)
	copy(raw, pkt.raw[:fileDescNameOffset])
	copy(raw[fileDescNameOffset:], name)
	binary.LittleEndian.PutUint64(raw[8:16], uint64(length))
	seal(raw)
	return raw
}
