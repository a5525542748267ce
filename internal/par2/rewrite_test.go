package par2

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"example.com/par2rename/internal/common"
)

func rewriteBytes(t *testing.T, in []byte, plan RewritePlan, opts RewriteOptions) ([]byte, StreamResult) {
	t.Helper()
	var out bytes.Buffer
	res, err := RewriteStream(bytes.NewReader(in), &out, plan, opts)
	if err != nil {
		t.Fatalf("RewriteStream: %v", err)
	}
	if res.BytesIn != int64(len(in)) || res.BytesOut != int64(out.Len()) {
		t.Fatalf("byte counts in=%d out=%d, want %d/%d", res.BytesIn, res.BytesOut, len(in), out.Len())
	}
	return out.Bytes(), res
}

func TestRewriteScenario(t *testing.T) {
	in := scenarioStream()
	m := NewRenameMap([]string{"report.txt", "data.bin"})
	if err := m.Propose("data.bin", "dataset.csv"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	out, res := rewriteBytes(t, in, m.Plan(testSet), RewriteOptions{})

	if len(out) != len(in)+4 {
		t.Fatalf("output size = %d, want %d", len(out), len(in)+4)
	}
	if res.Renamed() != 1 || res.Packets != 3 {
		t.Fatalf("renamed %d of %d packets, want 1 of 3", res.Renamed(), res.Packets)
	}
	c := res.Changes[0]
	if c.OldLength != 128 || c.NewLength != 132 {
		t.Fatalf("length %d -> %d, want 128 -> 132", c.OldLength, c.NewLength)
	}
	before, after := ScanAll(in), ScanAll(out)
	if len(after) != 3 {
		t.Fatalf("output packets = %d, want 3", len(after))
	}
	for i := 0; i < 2; i++ {
		if !bytes.Equal(before[i].Bytes(), after[i].Bytes()) {
			t.Fatalf("packet %d changed", i)
		}
	}
	if name, _ := after[2].FileName(); name != "dataset.csv" {
		t.Fatalf("renamed packet name = %q", name)
	}
	if len(after[2].Body()) != 100 {
		t.Fatalf("renamed body = %d bytes, want 100", len(after[2].Body()))
	}
	if sum := md5.Sum(after[2].Body()); sum != c.NewChecksum {
		t.Fatalf("recorded checksum does not match packet")
	}
}

func TestRewritePassthroughIsIdentity(t *testing.T) {
	inputs := map[string][]byte{
		"scenario": scenarioStream(),
		"noisy":    noisyStream(),
		"junk":     bytes.Repeat([]byte("PAR2\x00PK"), 300),
		"empty":    nil,
	}
	for name, in := range inputs {
		for _, opts := range []ScanOptions{DefaultScanOptions(), tinyWindow()} {
			t.Run(name, func(t *testing.T) {
				out, res := rewriteBytes(t, in, NewRewritePlan(testSet, nil), RewriteOptions{Scan: opts})
				if !bytes.Equal(out, in) {
					t.Fatalf("empty plan changed the stream")
				}
				if res.Renamed() != 0 {
					t.Fatalf("Renamed = %d, want 0", res.Renamed())
				}
			})
		}
	}
}

func TestRewriteScopedMutation(t *testing.T) {
	names := []string{"a.bin", "bb.bin", "ccc.bin", "dddd.bin"}
	var b bytes.Buffer
	b.Write(BuildMainPacket(testSet, 1024, fileIDs(names...)))
	for _, n := range names {
		b.Write(BuildFileDescPacket(testSet, testFileDesc(n)))
	}
	in := b.Bytes()

	for _, newName := range []string{"x", "xy", "xyz", "wxyz", "vwxyz", "longer-name.bin"} {
		t.Run(newName, func(t *testing.T) {
			plan := NewRewritePlan(testSet, map[string]string{"ccc.bin": newName})
			out, res := rewriteBytes(t, in, plan, RewriteOptions{Scan: tinyWindow()})
			if res.Renamed() != 1 {
				t.Fatalf("Renamed = %d, want 1", res.Renamed())
			}
			before, after := ScanAll(in), ScanAll(out)
			if len(before) != len(after) {
				t.Fatalf("packet count %d -> %d", len(before), len(after))
			}
			for i := range before {
				old, cur := before[i].Bytes(), after[i].Bytes()
				if name, _ := before[i].FileName(); name != "ccc.bin" {
					if !bytes.Equal(old, cur) {
						t.Fatalf("packet %d changed", i)
					}
					continue
				}
				if !bytes.Equal(old[:8], cur[:8]) || !bytes.Equal(old[32:120], cur[32:120]) {
					t.Fatalf("fixed header changed outside length and checksum")
				}
				padded := (len(newName) + 3) / 4 * 4
				if after[i].Length != uint64(120+padded) {
					t.Fatalf("Length = %d, want %d", after[i].Length, 120+padded)
				}
				tail := cur[120+len(newName):]
				if len(tail) != padded-len(newName) || bytes.Count(tail, []byte{0}) != len(tail) {
					t.Fatalf("padding = %v, want %d zero bytes", tail, padded-len(newName))
				}
				if sum := md5.Sum(cur[32:]); !bytes.Equal(sum[:], cur[16:32]) {
					t.Fatalf("checksum invalid after rename")
				}
			}
		})
	}
}

func TestRewriteForeignSetIsolation(t *testing.T) {
	in := noisyStream()
	plan := NewRewritePlan(testSet, map[string]string{"data.bin": "dataset.csv", "report.txt": "r.txt"})
	out, res := rewriteBytes(t, in, plan, RewriteOptions{Scan: tinyWindow()})
	if res.Renamed() != 2 {
		t.Fatalf("Renamed = %d, want 2", res.Renamed())
	}
	var foreignIn, foreignOut [][]byte
	for _, p := range ScanAll(in) {
		if p.SetID == foreignSet {
			foreignIn = append(foreignIn, p.Bytes())
		}
	}
	for _, p := range ScanAll(out) {
		if p.SetID == foreignSet {
			foreignOut = append(foreignOut, p.Bytes())
		}
		if p.SetID == testSet && p.Kind == KindFileDescription {
			name, _ := p.FileName()
			if name == "data.bin" || name == "report.txt" {
				t.Fatalf("target packet %q was not renamed", name)
			}
		}
	}
	if len(foreignIn) != 1 || len(foreignOut) != 1 || !bytes.Equal(foreignIn[0], foreignOut[0]) {
		t.Fatalf("foreign packet changed")
	}
	// unverified bytes after the last packet are carried over
	if !bytes.HasSuffix(out, in[len(in)-40:]) {
		t.Fatalf("trailing bytes were not preserved")
	}
}

func TestRewriteCountsUnknownNames(t *testing.T) {
	m := NewRenameMap([]string{"report.txt"})
	if err := m.Propose("report.txt", "r.txt"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	_, res := rewriteBytes(t, scenarioStream(), m.Plan(testSet), RewriteOptions{})
	if res.UnknownNames != 1 {
		t.Fatalf("UnknownNames = %d, want 1", res.UnknownNames)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		src, outDir, prefix, want string
	}{
		{src: filepath.Join("in", "set.par2"), want: filepath.Join("in", "new_set.par2")},
		{src: filepath.Join("in", "set.par2"), outDir: "out", want: filepath.Join("out", "new_set.par2")},
		{src: "set.vol0+1.par2", prefix: "fixed-", want: "fixed-set.vol0+1.par2"},
	}
	for _, tc := range tests {
		if got := OutputPath(tc.src, tc.outDir, tc.prefix); got != tc.want {
			t.Fatalf("OutputPath(%q, %q, %q) = %q, want %q", tc.src, tc.outDir, tc.prefix, got, tc.want)
		}
	}
}

func TestRewriteSet(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	first := writeFile(t, dir, "set.par2", scenarioStream())
	second := writeFile(t, dir, "set.vol0+1.par2", noisyStream())
	missing := filepath.Join(dir, "set.vol1+2.par2")
	auditPath := filepath.Join(dir, "audit.jsonl")

	m := NewRenameMap([]string{"report.txt", "data.bin"})
	if err := m.Propose("data.bin", "dataset.csv"); err != nil {
		t.Fatalf("Propose: %v", err)
	}
	metrics := common.NewMetrics()
	batch := RewriteSet(context.Background(), []string{first, missing, second}, m.Plan(testSet), RewriteOptions{
		OutDir:  outDir,
		Audit:   common.NewPatchLog(auditPath),
		Metrics: metrics,
		BatchID: "batch-1",
	})
	if batch.Processed() != 2 || batch.Renamed() != 2 {
		t.Fatalf("processed %d renamed %d, want 2/2", batch.Processed(), batch.Renamed())
	}
	failed := batch.Failed()
	if len(failed) != 1 || failed[0].Input != missing || !errors.Is(failed[0].Err, os.ErrNotExist) {
		t.Fatalf("Failed = %+v", failed)
	}

	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var got []string
	for _, e := range entries {
		got = append(got, e.Name())
	}
	sort.Strings(got)
	if strings.Join(got, ",") != "new_set.par2,new_set.vol0+1.par2" {
		t.Fatalf("outputs = %v", got)
	}
	if out := readFile(t, filepath.Join(outDir, "new_set.par2")); len(out) != len(scenarioStream())+4 {
		t.Fatalf("new_set.par2 size = %d", len(out))
	}
	if in := readFile(t, first); !bytes.Equal(in, scenarioStream()) {
		t.Fatalf("input was modified")
	}
	for _, f := range batch.Files {
		if f.Err != nil {
			continue
		}
		want, _, err := common.Sha256OfFile(f.Output)
		if err != nil {
			t.Fatalf("Sha256OfFile: %v", err)
		}
		if f.OutputSHA256 != want {
			t.Fatalf("%s OutputSHA256 = %s, want %s", f.Output, f.OutputSHA256, want)
		}
	}

	log, err := common.ReadPatchLog(auditPath)
	if err != nil {
		t.Fatalf("ReadPatchLog: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(log))
	}
	if log[0].OldName != "data.bin" || log[0].NewName != "dataset.csv" || log[0].BatchID != "batch-1" || log[0].NewLength != 132 {
		t.Fatalf("audit entry = %+v", log[0])
	}
	snap := metrics.Snapshot()
	if snap.Files != 2 || snap.Renamed != 2 {
		t.Fatalf("metrics files=%d renamed=%d, want 2/2", snap.Files, snap.Renamed)
	}
}

func TestRewriteSetAborted(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "set.par2", scenarioStream())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	batch := RewriteSet(ctx, []string{src}, NewRewritePlan(testSet, map[string]string{"data.bin": "x"}), RewriteOptions{})
	if !batch.Aborted || len(batch.Files) != 0 {
		t.Fatalf("batch = %+v, want aborted with no files", batch)
	}
	if _, err := os.Stat(OutputPath(src, "", "")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("output exists after abort: %v", err)
	}
}

func TestRewriteFileFailureLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	srcDir := filepath.Join(dir, "not-a-file.par2")
	if err := os.Mkdir(srcDir, 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	outDir := filepath.Join(dir, "out")
	dst := filepath.Join(outDir, "new_not-a-file.par2")
	if _, err := RewriteFile(srcDir, dst, NewRewritePlan(testSet, nil), RewriteOptions{}); err == nil {
		t.Fatalf("RewriteFile of a directory succeeded")
	}
	entries, _ := os.ReadDir(outDir)
	if len(entries) != 0 {
		t.Fatalf("output dir holds %d entries after failure", len(entries))
	}
}

func TestRewriteFileRefusesInput(t *testing.T) {
	src := writeFile(t, t.TempDir(), "set.par2", scenarioStream())
	_, err := RewriteFile(src, src, NewRewritePlan(testSet, nil), RewriteOptions{})
	if !errors.Is(err, ErrSameFile) {
		t.Fatalf("err = %v, want ErrSameFile", err)
	}
}

func TestRewriteSetNeverReplacesInputs(t *testing.T) {
	dir := t.TempDir()
	prefixed := writeFile(t, dir, "new_x.par2", scenarioStream())
	plain := writeFile(t, dir, "x.par2", scenarioStream())
	plan := NewRewritePlan(testSet, map[string]string{"data.bin": "dataset.csv"})

	batch := RewriteSet(context.Background(), []string{prefixed, plain}, plan, RewriteOptions{})
	if len(batch.Files) != 2 {
		t.Fatalf("files = %d, want 2", len(batch.Files))
	}
	if err := batch.Files[0].Err; err != nil {
		t.Fatalf("new_x.par2: %v", err)
	}
	if err := batch.Files[1].Err; !errors.Is(err, ErrSameFile) {
		t.Fatalf("x.par2 err = %v, want ErrSameFile", err)
	}
	if got := readFile(t, prefixed); !bytes.Equal(got, scenarioStream()) {
		t.Fatalf("input new_x.par2 was replaced (len %d, was %d)", len(got), len(scenarioStream()))
	}
	if batch.Processed() != 1 {
		t.Fatalf("Processed = %d, want 1", batch.Processed())
	}
}

func TestRewriteSetRejectsSharedOutputs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a"), "set.par2", scenarioStream())
	b := writeFile(t, filepath.Join(dir, "b"), "set.par2", noisyStream())
	outDir := filepath.Join(dir, "out")
	plan := NewRewritePlan(testSet, map[string]string{"data.bin": "dataset.csv"})

	batch := RewriteSet(context.Background(), []string{a, b, a}, plan, RewriteOptions{OutDir: outDir})
	if batch.Files[0].Err != nil {
		t.Fatalf("first input: %v", batch.Files[0].Err)
	}
	for _, f := range batch.Files[1:] {
		if !errors.Is(f.Err, ErrSameFile) {
			t.Fatalf("%s err = %v, want ErrSameFile", f.Input, f.Err)
		}
	}
	out := readFile(t, filepath.Join(outDir, "new_set.par2"))
	if len(out) != len(scenarioStream())+4 {
		t.Fatalf("shared output size = %d, want the first input's rewrite", len(out))
	}
}
