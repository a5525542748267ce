package par2

import (
	"bytes"
	"crypto/md5"
	"os"
	"path/filepath"
	"testing"
)

var (
	testSet    = SetID{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18, 0x19, 0x1a, 0x1b, 0x1c, 0x1d, 0x1e, 0x1f}
	foreignSet = SetID{0xf0, 0xe1, 0xd2, 0xc3, 0xb4, 0xa5, 0x96, 0x87, 0x78, 0x69, 0x5a, 0x4b, 0x3c, 0x2d, 0x1e, 0x0f}
)

func testFileDesc(name string) FileDescription {
	fd := FileDescription{Name: name, Length: uint64(len(name)) * 1000}
	fd.Hash = md5.Sum([]byte("content of " + name))
	fd.Hash16k = md5.Sum([]byte("head of " + name))
	fd.FileID = FileID(fd.Hash16k, fd.Length, name)
	return fd
}

func fileIDs(names ...string) [][16]byte {
	ids := make([][16]byte, len(names))
	for i, n := range names {
		ids[i] = testFileDesc(n).FileID
	}
	return ids
}

// scenarioStream is a Main packet declaring two files followed by their
// FileDesc packets.
func scenarioStream() []byte {
	var b bytes.Buffer
	b.Write(BuildMainPacket(testSet, 4096, fileIDs("report.txt", "data.bin")))
	b.Write(BuildFileDescPacket(testSet, testFileDesc("report.txt")))
	b.Write(BuildFileDescPacket(testSet, testFileDesc("data.bin")))
	return b.Bytes()
}

// noisyStream mixes packets of two sets with junk, spurious magic and a
// truncated packet tail.
func noisyStream() []byte {
	var b bytes.Buffer
	b.WriteString("leading junk before any packet")
	b.Write(BuildCreatorPacket(testSet, "par2rename tests"))
	b.Write(BuildMainPacket(testSet, 4096, fileIDs("report.txt", "data.bin")))
	b.Write(magic)
	b.Write([]byte{0x40, 0, 0, 0, 0, 0, 0, 0})
	b.Write(bytes.Repeat([]byte{0xaa}, 70))
	b.Write(BuildFileDescPacket(testSet, testFileDesc("report.txt")))
	b.Write(BuildFileDescPacket(foreignSet, testFileDesc("data.bin")))
	b.Write(BuildPacket(testSet, TypeTag("RecvSlic"), append(Magic(), bytes.Repeat([]byte{7}, 200)...)))
	b.Write([]byte{1, 2, 3})
	b.Write(BuildFileDescPacket(testSet, testFileDesc("data.bin")))
	b.Write(BuildPacket(testSet, TypeTag("IFSC"), bytes.Repeat([]byte{9}, 96)))
	tail := BuildFileDescPacket(testSet, testFileDesc("cut.bin"))
	b.Write(tail[:len(tail)-5])
	return b.Bytes()
}

// tinyWindow forces refills and window growth on small fixtures.
func tinyWindow() ScanOptions {
	return ScanOptions{InitialWindow: 64, RefillSize: 32, MaxPacketSize: 4096}
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
