package manifest

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"example.com/par2rename/internal/common"
)

var ErrMismatch = errors.New("manifest mismatch")

// Verify re-hashes every item and reports all files that are missing or
// differ from the recorded hash and size.
func Verify(m Manifest) error {
	if m.ShaAlgo != "sha256" {
		return fmt.Errorf("unsupported manifest algorithm %q", m.ShaAlgo)
	}
	if len(m.Items) == 0 {
		return errors.New("manifest has no items")
	}
	var errs []error
	for _, item := range m.Items {
		if strings.TrimSpace(item.Path) == "" {
			errs = append(errs, errors.New("manifest item missing path"))
			continue
		}
		info, err := os.Stat(item.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("manifest item %q: %w", item.Path, err))
			continue
		}
		if info.IsDir() {
			errs = append(errs, fmt.Errorf("manifest item %q is a directory", item.Path))
			continue
		}
		hash, size, err := common.Sha256OfFile(item.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("hash %q: %w", item.Path, err))
			continue
		}
		if hash != item.Sha256 || size != item.Size {
			errs = append(errs, fmt.Errorf("%w for %s", ErrMismatch, item.Path))
		}
	}
	return errors.Join(errs...)
}
