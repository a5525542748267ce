package par2

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var volSuffix = regexp.MustCompile(`(?i)\.vol\d*[-+_]\d+$`)

// SetBaseName strips the directory, the .par2 extension and any volume
// suffix (.vol03+04, .vol03-04, .vol_03) from path.
func SetBaseName(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".par2") {
		base = base[:len(base)-len(ext)]
	}
	return volSuffix.ReplaceAllString(base, "")
}

// FindSetFiles returns the .par2 files in the directory of path that share
// its base name, compared case-insensitively. The index file comes first,
// then the volumes by name.
func FindSetFiles(path string) ([]string, error) {
	dir := filepath.Dir(path)
	base := SetBaseName(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	lowerBase := strings.ToLower(base)
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if !strings.HasPrefix(name, lowerBase) || !strings.HasSuffix(name, ".par2") {
			continue
		}
		if !strings.EqualFold(SetBaseName(e.Name()), base) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.SliceStable(out, func(i, j int) bool {
		vi := volSuffix.MatchString(strings.TrimSuffix(strings.ToLower(filepath.Base(out[i])), ".par2"))
		vj := volSuffix.MatchString(strings.TrimSuffix(strings.ToLower(filepath.Base(out[j])), ".par2"))
		if vi != vj {
			return !vi
		}
		return out[i] < out[j]
	})
	return out, nil
}
