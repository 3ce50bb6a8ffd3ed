package geotest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
)

// CloseShapefile closes w, which was created at path. go-shp writes the
// attribute table as "<base>dbf", so it is moved to "<base>.dbf" where
// readers look for it.
func CloseShapefile(w *shp.Writer, path string) error {
	w.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	if _, err := os.Stat(base + "dbf"); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return os.Rename(base+"dbf", base+".dbf")
}
