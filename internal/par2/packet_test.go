package par2

import (
	"crypto/md5"
	"encoding/binary"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		tag  [16]byte
		want Kind
	}{
		{name: "main", tag: TypeTag("Main"), want: KindMain},
		{name: "file description", tag: TypeTag("FileDesc"), want: KindFileDescription},
		{name: "creator", tag: TypeTag("Creator"), want: KindOther},
		{name: "ifsc", tag: TypeTag("IFSC"), want: KindOther},
		{name: "lowercase main", tag: TypeTag("main"), want: KindOther},
		{name: "zero", want: KindOther},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.tag); got != tc.want {
				t.Fatalf("Classify = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	valid := BuildFileDescPacket(testSet, testFileDesc("data.bin"))

	badSum := append([]byte(nil), valid...)
	badSum[len(badSum)-1] ^= 0xff

	short := append([]byte(nil), valid...)
	binary.LittleEndian.PutUint64(short[8:16], 40)

	tests := []struct {
		name     string
		buf      []byte
		want     probeStatus
		wantNeed uint64
	}{
		{name: "valid", buf: valid, want: probeValid},
		{name: "valid with trailing bytes", buf: append(append([]byte(nil), valid...), 1, 2, 3), want: probeValid},
		{name: "header incomplete", buf: valid[:50], want: probeNeedMore, wantNeed: HeaderSize},
		{name: "body incomplete", buf: valid[:100], want: probeNeedMore, wantNeed: uint64(len(valid))},
		{name: "checksum mismatch", buf: badSum, want: probeAnomaly},
		{name: "length below header", buf: short, want: probeAnomaly},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			pkt, status, need := probe(tc.buf)
			if status != tc.want {
				t.Fatalf("status = %v, want %v", status, tc.want)
			}
			if status == probeNeedMore && need != tc.wantNeed {
				t.Fatalf("need = %d, want %d", need, tc.wantNeed)
			}
			if status == probeValid && pkt.Length != uint64(len(valid)) {
				t.Fatalf("Length = %d, want %d", pkt.Length, len(valid))
			}
		})
	}
}

func TestPacketFields(t *testing.T) {
	ids := fileIDs("report.txt", "data.bin")
	pkts := ScanAll(append(BuildMainPacket(testSet, 768000, ids), BuildFileDescPacket(testSet, testFileDesc("report.txt"))...))
	if len(pkts) != 2 {
		t.Fatalf("packets = %d, want 2", len(pkts))
	}
	main, fd := pkts[0], pkts[1]
	if main.Kind != KindMain || main.SetID != testSet {
		t.Fatalf("main packet = %v/%v", main.Kind, main.SetID)
	}
	if n, ok := main.FileCount(); !ok || n != 2 {
		t.Fatalf("FileCount = %d,%v, want 2,true", n, ok)
	}
	if s, ok := main.SliceSize(); !ok || s != 768000 {
		t.Fatalf("SliceSize = %d,%v, want 768000,true", s, ok)
	}
	if _, ok := main.FileName(); ok {
		t.Fatalf("FileName on main packet should fail")
	}
	if fd.Offset != int64(main.Length) {
		t.Fatalf("fd Offset = %d, want %d", fd.Offset, main.Length)
	}
	got, ok := fd.FileDescription()
	if !ok {
		t.Fatalf("FileDescription failed")
	}
	want := testFileDesc("report.txt")
	if got != want {
		t.Fatalf("FileDescription = %+v, want %+v", got, want)
	}
	if fd.Length != 132 {
		t.Fatalf("report.txt packet length = %d, want 132", fd.Length)
	}
	sum := md5.Sum(fd.Body())
	if sum != fd.Checksum {
		t.Fatalf("checksum does not cover body")
	}
	if fd.TagName() != "FileDesc" {
		t.Fatalf("TagName = %q, want FileDesc", fd.TagName())
	}
}

func TestFileNameUTF8(t *testing.T) {
	name := "résumé – 履歴書.pdf"
	pkts := ScanAll(BuildFileDescPacket(testSet, testFileDesc(name)))
	if len(pkts) != 1 {
		t.Fatalf("packets = %d, want 1", len(pkts))
	}
	if got, _ := pkts[0].FileName(); got != name {
		t.Fatalf("FileName = %q, want %q", got, name)
	}
	if pkts[0].Length%4 != 0 {
		t.Fatalf("Length %d is not a multiple of 4", pkts[0].Length)
	}
}
