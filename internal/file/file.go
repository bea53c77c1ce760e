package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const appDirPerm os.FileMode = 0o750

// ErrNotImage is returned by ReadImage when the content is not a supported image.
var ErrNotImage = errors.New("not a supported image")

var imageTypes = []string{"image/png", "image/jpeg", "image/webp", "image/avif"}

// EnsureDir creates the directory if it does not exist.
func EnsureDir(dirPath string) error {
	if dirPath == "" {
		return errors.New("empty dir path")
	}
	if err := os.MkdirAll(dirPath, appDirPerm); err != nil { //nolint:gosec // app-owned output dir
		return fmt.Errorf("ensure dir: %w", err)
	}
	return nil
}

// CheckReadable opens path to prove it is a readable regular file without
// reading its content.
func CheckReadable(path string) error {
	f, err := os.Open(path) //nolint:gosec // path supplied by the batch owner
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("open file: %s is not a regular file", path)
	}
	return nil
}

// ReadImage reads the whole file and checks its detected media type.
func ReadImage(path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path supplied by the batch owner
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	mtype := mimetype.Detect(data)
	if !mimetype.EqualsAny(mtype.String(), imageTypes...) {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, strings.TrimSpace(mtype.String()))
	}
	return data, nil
}

// CopyAtomic writes data provided by the reader to the destination file atomically.
// An existing destination is replaced only after the copy fully succeeded.
func CopyAtomic(filename string, reader io.Reader) error {
	dir := filepath.Dir(filename)
	if err := EnsureDir(dir); err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tempFile.Name()
	if _, err := io.Copy(tempFile, reader); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("copy to temp: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp: %w", err)
	}
	// remove existing file to avoid permission issues on Windows
	if _, err := os.Stat(filename); err == nil {
		_ = os.Remove(filename)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// ProgressReader reports the fraction of Total read so far after every Read.
// With Total <= 0 only the final EOF reports completion.
type ProgressReader struct {
	R        io.Reader
	Total    int64
	OnUpdate func(fraction float64)

	read int64
	done bool
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	p.read += int64(n)
	if p.OnUpdate == nil || p.done {
		return n, err
	}
	switch {
	case errors.Is(err, io.EOF):
		p.done = true
		p.OnUpdate(1)
	case p.Total > 0 && n > 0:
		fraction := float64(p.read) / float64(p.Total)
		if fraction >= 1 {
			fraction = 1
			p.done = true
		}
		p.OnUpdate(fraction)
	}
	return n, err
}
