package manifest

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"example.com/par2rename/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time  `json:"createdAt"`
	ShaAlgo   string     `json:"shaAlgo"`
	BatchID   string     `json:"batchId,omitempty"`
	Items     []Item     `json:"items"`
	Signature *Signature `json:"signature,omitempty"`
}

type Signature struct {
	Type          string `json:"type"`
	CertSubject   string `json:"certSubject"`
	Issuer        string `json:"issuer"`
	SignatureFile string `json:"signatureFile"`
}

// Build hashes every path. Items keep the order of paths.
func Build(batchID string, paths []string) (Manifest, error) {
	m := New(batchID)
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, err
		}
		m.Items = append(m.Items, NewItem(p, sz, hex))
	}
	return m, nil
}

// New returns an empty sha256 manifest stamped with the current time.
func New(batchID string) Manifest {
	return Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256", BatchID: batchID}
}

// NewItem records a file whose hash is already known, typed by extension.
func NewItem(path string, size int64, sha256Hex string) Item {
	typ := "other"
	switch {
	case hasExt(path, ".par2"):
		typ = "par2"
	case hasExt(path, ".jsonl"):
		typ = "audit"
	case hasExt(path, ".json"):
		typ = "json"
	case hasExt(path, ".pdf"):
		typ = "pdf"
	}
	return Item{Path: path, Size: size, Sha256: sha256Hex, Type: typ}
}

func hasExt(path string, exts ...string) bool {
	for _, e := range exts {
		if len(path) >= len(e) && strings.EqualFold(path[len(path)-len(e):], e) {
			return true
		}
	}
	return false
}

// Digest is a single hash over the item hashes in path order. It is what
// the PDF report encodes as a QR code.
func (m Manifest) Digest() string {
	items := append([]Item(nil), m.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].Path < items[j].Path })
	h := common.NewHasher()
	for _, it := range items {
		h.Write([]byte(it.Sha256))
		h.Write([]byte{'\n'})
	}
	return h.Sum()
}

// Encode returns the bytes Save writes. A detached signature covers
// exactly these bytes.
func Encode(m Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func Save(m Manifest, out string) error {
	b, err := Encode(m)
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(b, &m)
	return m, err
}
