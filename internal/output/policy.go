// Package output decides where a compressed file is written.
package output

import (
	"errors"
	"path/filepath"
	"strings"
)

// ErrNoOutputDir is returned when a non-replacing policy has no directory.
var ErrNoOutputDir = errors.New("output dir not configured")

// Policy either replaces the original file or writes into Dir under the
// original base name.
type Policy struct {
	Replace bool
	Dir     string
}

// Resolve returns the destination path for the given origin file.
func (p Policy) Resolve(originPath string) (string, error) {
	if p.Replace {
		return originPath, nil
	}
	if strings.TrimSpace(p.Dir) == "" {
		return "", ErrNoOutputDir
	}
	return filepath.Join(p.Dir, filepath.Base(originPath)), nil
}
