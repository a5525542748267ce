package common

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// PatchEntry records one rebuilt FileDesc packet in an output file.
type PatchEntry struct {
	BatchID           string    `json:"batchId,omitempty"`
	File              string    `json:"file"`
	Output            string    `json:"output,omitempty"`
	Offset            int64     `json:"offset"`
	SetID             string    `json:"setId"`
	OldName           string    `json:"oldName"`
	NewName           string    `json:"newName"`
	OldLength         uint64    `json:"oldLength"`
	NewLength         uint64    `json:"newLength"`
	BeforeChecksumHex string    `json:"beforeChecksumHex"`
	AfterChecksumHex  string    `json:"afterChecksumHex"`
	Ts                time.Time `json:"ts"`
}

// BeforeChecksum decodes the packet checksum recorded before the rename.
func (p PatchEntry) BeforeChecksum() ([]byte, error) {
	if strings.TrimSpace(p.BeforeChecksumHex) == "" {
		return nil, nil
	}
	return hex.DecodeString(p.BeforeChecksumHex)
}

// AfterChecksum decodes the checksum of the rebuilt packet.
func (p PatchEntry) AfterChecksum() ([]byte, error) {
	if strings.TrimSpace(p.AfterChecksumHex) == "" {
		return nil, nil
	}
	return hex.DecodeString(p.AfterChecksumHex)
}

// PatchLog provides append-only access to a JSONL audit log.
type PatchLog struct {
	path string
	mu   sync.Mutex
}

// NewPatchLog returns a PatchLog that writes to the provided path.
func NewPatchLog(path string) *PatchLog {
	return &PatchLog{path: path}
}

// Path returns the backing file path for the log.
func (p *PatchLog) Path() string {
	if p == nil {
		return ""
	}
	return p.path
}

// Append writes a new entry to the audit log, one JSON object per line.
func (p *PatchLog) Append(entry PatchEntry) error {
	if p == nil {
		return errors.New("nil patch log")
	}
	if entry.File == "" {
		return errors.New("patch entry missing file")
	}
	if entry.NewName == "" {
		return errors.New("patch entry missing newName")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	dir := filepath.Dir(p.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := os.OpenFile(p.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// ReadPatchLog loads every entry from the supplied JSONL file.
func ReadPatchLog(path string) ([]PatchEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []PatchEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry PatchEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode patch entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
