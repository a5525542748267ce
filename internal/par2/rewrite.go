package par2

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"example.com/par2rename/internal/common"
)

const DefaultPrefix = "new_"

var ErrSameFile = errors.New("output would overwrite input")

// RewriteOptions configures a rewrite pass.
type RewriteOptions struct {
	Scan ScanOptions
	// Prefix is prepended to each output base name.
	Prefix string
	// OutDir receives the outputs. Empty writes next to each input.
	OutDir  string
	Audit   *common.PatchLog
	Metrics *common.Metrics
	BatchID string
}

func (o RewriteOptions) withDefaults() RewriteOptions {
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	o.Scan = o.Scan.withDefaults()
	o.Scan.MaxBytes = 0
	return o
}

// PacketChange describes one rebuilt FileDesc packet.
type PacketChange struct {
	Offset      int64
	OldName     string
	NewName     string
	OldLength   uint64
	NewLength   uint64
	OldChecksum [16]byte
	NewChecksum [16]byte
}

// StreamResult counts what one rewrite pass saw and changed.
type StreamResult struct {
	Packets   int
	Anomalies int
	// UnknownNames counts FileDesc packets of the set whose name is missing
	// from the index the plan was built from.
	UnknownNames int
	BytesIn      int64
	BytesOut     int64
	// OutputSHA256 is the hex digest of the committed output. Only
	// RewriteFile fills it in.
	OutputSHA256 string
	Changes      []PacketChange
}

// Renamed returns the number of rebuilt packets.
func (r StreamResult) Renamed() int {
	return len(r.Changes)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// RewriteStream copies r to w, rebuilding FileDesc packets of plan.SetID
// whose name has a pending rename. Every other byte is copied unchanged.
func RewriteStream(r io.Reader, w io.Writer, plan RewritePlan, opts RewriteOptions) (StreamResult, error) {
	opts = opts.withDefaults()
	var res StreamResult
	sc := NewScanner(r, opts.Scan)
	sc.SetMetrics(opts.Metrics)
	cw := &countingWriter{w: w}
	for {
		seg, err := sc.Step()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.BytesOut = cw.n
			return res, err
		}
		res.BytesIn += int64(len(seg.Data))
		out := seg.Data
		switch seg.Kind {
		case SegmentAnomaly:
			res.Anomalies++
		case SegmentPacket:
			res.Packets++
			if rebuilt, change, ok := rewritePacket(seg.Packet, plan, &res); ok {
				out = rebuilt
				res.Changes = append(res.Changes, change)
				if opts.Metrics != nil {
					opts.Metrics.AddRenamed(1)
				}
			}
		}
		if _, err := cw.Write(out); err != nil {
			res.BytesOut = cw.n
			return res, err
		}
	}
	res.BytesOut = cw.n
	return res, nil
}

func rewritePacket(pkt Packet, plan RewritePlan, res *StreamResult) ([]byte, PacketChange, bool) {
	if pkt.SetID != plan.SetID || pkt.Kind != KindFileDescription {
		return nil, PacketChange{}, false
	}
	name, ok := pkt.FileName()
	if !ok {
		return nil, PacketChange{}, false
	}
	if !plan.knows(name) {
		res.UnknownNames++
		common.Warnf("file name %q at offset %d is not in the indexed file list", name, pkt.Offset)
	}
	to, ok := plan.Lookup(name)
	if !ok {
		return nil, PacketChange{}, false
	}
	raw := RenamePacket(pkt, to)
	change := PacketChange{
		Offset:      pkt.Offset,
		OldName:     name,
		NewName:     to,
		OldLength:   pkt.Length,
		NewLength:   uint64(len(raw)),
		OldChecksum: pkt.Checksum,
	}
	copy(change.NewChecksum[:], raw[16:32])
	common.Debugf("renamed %q to %q at offset %d (%d -> %d bytes)", name, to, pkt.Offset, change.OldLength, change.NewLength)
	return raw, change, true
}

// OutputPath returns where the rewrite of src is written.
func OutputPath(src, outDir, prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dir := filepath.Dir(src)
	if outDir != "" {
		dir = outDir
	}
	return filepath.Join(dir, prefix+filepath.Base(src))
}

func samePath(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	if aa == bb {
		return true
	}
	sa, err1 := os.Stat(aa)
	sb, err2 := os.Stat(bb)
	return err1 == nil && err2 == nil && os.SameFile(sa, sb)
}

// RewriteFile writes the rewrite of src to dst. The output is staged in a
// temporary file next to dst and only renamed into place once it is fully
// written and synced.
func RewriteFile(src, dst string, plan RewritePlan, opts RewriteOptions) (StreamResult, error) {
	opts = opts.withDefaults()
	if samePath(src, dst) {
		return StreamResult{}, fmt.Errorf("%w: %s", ErrSameFile, src)
	}
	in, err := os.Open(src)
	if err != nil {
		return StreamResult{}, err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return StreamResult{}, err
	}
	if opts.Metrics != nil {
		opts.Metrics.AddTotalBytes(info.Size())
	}
	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return StreamResult{}, err
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return StreamResult{}, err
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	sum := common.NewHasher()
	bw := bufio.NewWriterSize(io.MultiWriter(tmp, sum), DefaultRefillSize)
	res, err := RewriteStream(in, bw, plan, opts)
	if err != nil {
		return res, fmt.Errorf("rewrite %s: %w", src, err)
	}
	if err := bw.Flush(); err != nil {
		return res, err
	}
	res.OutputSHA256 = sum.Sum()
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return res, err
	}
	if err := tmp.Sync(); err != nil {
		return res, err
	}
	if err := tmp.Close(); err != nil {
		return res, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		committed = true
		return res, err
	}
	committed = true
	if opts.Metrics != nil {
		opts.Metrics.IncFiles()
	}
	if opts.Audit != nil {
		for _, c := range res.Changes {
			entry := common.PatchEntry{
				BatchID:           opts.BatchID,
				File:              src,
				Output:            dst,
				Offset:            c.Offset,
				SetID:             plan.SetID.String(),
				OldName:           c.OldName,
				NewName:           c.NewName,
				OldLength:         c.OldLength,
				NewLength:         c.NewLength,
				BeforeChecksumHex: hex.EncodeToString(c.OldChecksum[:]),
				AfterChecksumHex:  hex.EncodeToString(c.NewChecksum[:]),
			}
			if err := opts.Audit.Append(entry); err != nil {
				common.Warnf("audit log %s: %v", opts.Audit.Path(), err)
			}
		}
	}
	return res, nil
}

// FileResult is the outcome for one input of a batch.
type FileResult struct {
	Input  string
	Output string
	StreamResult
	Err error
}

// BatchResult is the outcome of RewriteSet.
type BatchResult struct {
	BatchID string
	Files   []FileResult
	// Aborted is set when the context ended before every input was read.
	Aborted bool
}

// Renamed returns the number of rebuilt packets across all written files.
func (b BatchResult) Renamed() int {
	n := 0
	for _, f := range b.Files {
		if f.Err == nil {
			n += f.Renamed()
		}
	}
	return n
}

// Processed returns the number of outputs written.
func (b BatchResult) Processed() int {
	n := 0
	for _, f := range b.Files {
		if f.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the inputs that could not be rewritten.
func (b BatchResult) Failed() []FileResult {
	var out []FileResult
	for _, f := range b.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// outputConflicts returns, per input, ErrSameFile when its output would
// replace any input of the batch or the output of an earlier input.
func outputConflicts(paths, dsts []string) []error {
	errs := make([]error, len(paths))
	for i, dst := range dsts {
		for _, src := range paths {
			if samePath(src, dst) {
				errs[i] = fmt.Errorf("%w: %s would replace input %s", ErrSameFile, dst, src)
				break
			}
		}
		if errs[i] != nil {
			continue
		}
		for j := 0; j < i; j++ {
			if samePath(dsts[j], dst) {
				errs[i] = fmt.Errorf("%w: %s is also the output of %s", ErrSameFile, dst, paths[j])
				break
			}
		}
	}
	return errs
}

// RewriteSet rewrites each input in order. A failing file is recorded and
// the batch moves on. Inputs whose output would land on another input or
// on an earlier output fail without being read. ctx is only checked
// between files.
func RewriteSet(ctx context.Context, paths []string, plan RewritePlan, opts RewriteOptions) BatchResult {
	opts = opts.withDefaults()
	batch := BatchResult{BatchID: opts.BatchID}
	dsts := make([]string, len(paths))
	for i, src := range paths {
		dsts[i] = OutputPath(src, opts.OutDir, opts.Prefix)
	}
	conflicts := outputConflicts(paths, dsts)
	for i, src := range paths {
		if err := ctx.Err(); err != nil {
			common.Warnf("rewrite aborted before %s: %v", src, err)
			batch.Aborted = true
			break
		}
		dst := dsts[i]
		var (
			res StreamResult
			err = conflicts[i]
		)
		if err == nil {
			res, err = RewriteFile(src, dst, plan, opts)
		}
		fr := FileResult{Input: src, Output: dst, StreamResult: res, Err: err}
		if err != nil {
			common.Warnf("rewrite %s: %v", src, err)
		} else {
			common.Logf("wrote %s: %d of %d packets renamed", dst, res.Renamed(), res.Packets)
		}
		batch.Files = append(batch.Files, fr)
	}
	return batch
}
