package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/par2rename/internal/par2"
)

type editsFile struct {
	Renames []par2.RenameEntry `yaml:"renames"`
}

// LoadEdits reads a list of renames:
//
//	renames:
//	  - from: data.bin
//	    to: dataset.csv
func LoadEdits(path string) ([]par2.RenameEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var doc editsFile
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	for i, e := range doc.Renames {
		if e.Original == "" {
			return nil, fmt.Errorf("%s: rename %d has no 'from'", path, i+1)
		}
	}
	return doc.Renames, nil
}

// ParseEdit splits an "old=new" flag value. Only the first '=' separates,
// so new names may contain one.
func ParseEdit(s string) (par2.RenameEntry, error) {
	from, to, ok := strings.Cut(s, "=")
	if !ok || from == "" {
		return par2.RenameEntry{}, fmt.Errorf("rename %q: want old=new", s)
	}
	return par2.RenameEntry{Original: from, New: to}, nil
}
