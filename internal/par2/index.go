package par2

import (
	"errors"
	"fmt"
	"io"
	"os"

	"example.com/par2rename/internal/common"
)

const DefaultMaxScanBytes = 256 << 20

var (
	ErrIndexIncomplete = errors.New("could not determine the full file list")
	ErrNoInputs        = errors.New("no input files")
)

// SourceFile is one distinct file name recorded by the set.
type SourceFile struct {
	Name   string
	FileID [16]byte
	Length uint64
}

// SetIndex is the read-only view of one recovery set built from a prefix
// of its physical files.
type SetIndex struct {
	SetID     SetID
	HasMain   bool
	FileCount uint32
	SliceSize uint64
	Files     []SourceFile
	// Sources lists the physical files that were read, in order.
	Sources []string

	seen map[string]int
}

// Names returns the distinct file names in encounter order.
func (ix *SetIndex) Names() []string {
	out := make([]string, len(ix.Files))
	for i, f := range ix.Files {
		out[i] = f.Name
	}
	return out
}

// Contains reports whether name is recorded by the set.
func (ix *SetIndex) Contains(name string) bool {
	_, ok := ix.seen[name]
	return ok
}

// Complete reports whether the Main packet was seen and every declared file
// has a name.
func (ix *SetIndex) Complete() bool {
	if !ix.HasMain {
		return false
	}
	return ix.FileCount == 0 || len(ix.Files) >= int(ix.FileCount)
}

// IndexOptions bounds the read-only pass.
type IndexOptions struct {
	Scan ScanOptions
	// MaxScanBytes is the most read from any single file.
	MaxScanBytes int64
	Metrics      *common.Metrics
}

func (o IndexOptions) withDefaults() IndexOptions {
	o.Scan = o.Scan.withDefaults()
	if o.MaxScanBytes <= 0 {
		o.MaxScanBytes = DefaultMaxScanBytes
	}
	o.Scan.MaxBytes = o.MaxScanBytes
	return o
}

// BuildIndex reads the candidate files in order until the file list of the
// set is complete. The first valid packet fixes the set id; packets of any
// other set are ignored. When no file completes the list, the partial index
// is returned with ErrIndexIncomplete.
func BuildIndex(paths []string, opts IndexOptions) (*SetIndex, error) {
	if len(paths) == 0 {
		return nil, ErrNoInputs
	}
	opts = opts.withDefaults()
	ix := &SetIndex{seen: make(map[string]int)}
	var errs []error
	opened := 0
	for _, path := range paths {
		done, err := ix.scanFile(path, opts)
		if err != nil {
			common.Warnf("index %s: %v", path, err)
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		opened++
		if done {
			common.Debugf("index complete after %s: %d names", path, len(ix.Files))
			return ix, nil
		}
	}
	if opened == 0 {
		return nil, errors.Join(errs...)
	}
	return ix, ErrIndexIncomplete
}

func (ix *SetIndex) scanFile(path string, opts IndexOptions) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	ix.Sources = append(ix.Sources, path)

	sc := NewScanner(f, opts.Scan)
	sc.SetMetrics(opts.Metrics)
	for {
		pkt, err := sc.Next()
		if errors.Is(err, io.EOF) {
			if sc.Capped() {
				common.Warnf("index %s: stopped after %s", path, common.FormatBytes(opts.MaxScanBytes))
			}
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if ix.add(pkt) {
			return true, nil
		}
	}
}

// add records pkt and reports whether the index became complete.
func (ix *SetIndex) add(pkt Packet) bool {
	if ix.SetID.IsZero() {
		ix.SetID = pkt.SetID
	}
	if pkt.SetID != ix.SetID {
		return false
	}
	switch pkt.Kind {
	case KindMain:
		if !ix.HasMain {
			ix.HasMain = true
			ix.FileCount, _ = pkt.FileCount()
			ix.SliceSize, _ = pkt.SliceSize()
		}
	case KindFileDescription:
		fd, ok := pkt.FileDescription()
		if !ok {
			return false
		}
		if i, dup := ix.seen[fd.Name]; dup {
			if ix.Files[i].FileID != fd.FileID {
				common.Warnf("file name %q is recorded for two different files; keeping the first", fd.Name)
			}
			break
		}
		ix.seen[fd.Name] = len(ix.Files)
		ix.Files = append(ix.Files, SourceFile{Name: fd.Name, FileID: fd.FileID, Length: fd.Length})
	}
	return ix.Complete()
}
