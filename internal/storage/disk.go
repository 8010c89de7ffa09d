package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Usage summarizes the files under a directory tree.
type Usage struct {
	Files int   `json:"files"`
	Bytes int64 `json:"bytes"`
}

// DirUsage walks the given paths and totals regular files. A path may be a file or a
// directory. Missing or empty paths count as zero; other walk errors are returned.
func DirUsage(paths ...string) (Usage, error) {
	var u Usage
	for _, p := range paths {
		if p == "" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			u.Files++
			u.Bytes += info.Size()
			return nil
		})
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Usage{}, err
		}
	}
	return u, nil
}
