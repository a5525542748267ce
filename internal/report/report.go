package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"example.com/par2rename/internal/par2"
)

// FileSummary is the per-file outcome of a rename batch.
type FileSummary struct {
	Input        string `json:"input"`
	Output       string `json:"output,omitempty"`
	Packets      int    `json:"packets"`
	Renamed      int    `json:"renamed"`
	Anomalies    int    `json:"anomalies,omitempty"`
	UnknownNames int    `json:"unknownNames,omitempty"`
	BytesIn      int64  `json:"bytesIn"`
	BytesOut     int64  `json:"bytesOut"`
	Sha256       string `json:"sha256,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Summary is the machine-readable record of one rename batch.
type Summary struct {
	BatchID        string             `json:"batchId"`
	CreatedAt      time.Time          `json:"createdAt"`
	SetID          string             `json:"setId"`
	FileCount      uint32             `json:"fileCount"`
	Names          []string           `json:"names"`
	Renames        []par2.RenameEntry `json:"renames"`
	Files          []FileSummary      `json:"files"`
	Renamed        int                `json:"renamed"`
	Processed      int                `json:"processed"`
	Failed         int                `json:"failed"`
	Aborted        bool               `json:"aborted,omitempty"`
	Manifest       string             `json:"manifest,omitempty"`
	ManifestDigest string             `json:"manifestDigest,omitempty"`
}

// FromBatch summarizes a finished RewriteSet call.
func FromBatch(ix *par2.SetIndex, renames []par2.RenameEntry, batch par2.BatchResult) Summary {
	s := Summary{
		BatchID:   batch.BatchID,
		CreatedAt: time.Now().UTC(),
		Renames:   renames,
		Renamed:   batch.Renamed(),
		Processed: batch.Processed(),
		Failed:    len(batch.Failed()),
		Aborted:   batch.Aborted,
	}
	if ix != nil {
		s.SetID = ix.SetID.String()
		s.FileCount = ix.FileCount
		s.Names = ix.Names()
	}
	for _, f := range batch.Files {
		fs := FileSummary{
			Input:        f.Input,
			Packets:      f.Packets,
			Renamed:      f.Renamed(),
			Anomalies:    f.Anomalies,
			UnknownNames: f.UnknownNames,
			BytesIn:      f.BytesIn,
			BytesOut:     f.BytesOut,
		}
		if f.Err != nil {
			fs.Error = f.Err.Error()
		} else {
			fs.Output = f.Output
			fs.Sha256 = f.OutputSHA256
		}
		s.Files = append(s.Files, fs)
	}
	return s
}

// CompletionLine is the one-line result shown after a batch.
func (s Summary) CompletionLine() string {
	return fmt.Sprintf("Modified %d packets in %d PAR2 files.", s.Renamed, s.Processed)
}

// Outputs lists the files the batch wrote.
func (s Summary) Outputs() []string {
	var out []string
	for _, f := range s.Files {
		if f.Error == "" && f.Output != "" {
			out = append(out, f.Output)
		}
	}
	return out
}

func SaveSummaryJSON(s Summary, out string) error {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadSummaryJSON(path string) (Summary, error) {
	var s Summary
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	err = json.Unmarshal(b, &s)
	return s, err
}
