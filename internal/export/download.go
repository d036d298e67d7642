package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
)

// Trigger materializes a finished export for the user. It is the only
// side effect of a successful export path.
type Trigger interface {
	Save(blob []byte, filename string) (string, error)
}

// Downloader writes exports into a directory. Each save goes through a
// scratch file that is released exactly once, whether or not the save
// succeeds.
type Downloader struct {
	Dir string
}

// NewDownloader creates a downloader for dir
func NewDownloader(dir string) *Downloader {
	return &Downloader{Dir: dir}
}

// Save writes blob as filename inside Dir and returns the final path
func (d *Downloader) Save(blob []byte, filename string) (path string, err error) {
	name := SafeFilename(filename)

	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(d.Dir, ".download-*")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// After a successful rename this is a no-op on a missing file
		if rmErr := os.Remove(tmpName); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
			err = fmt.Errorf("failed to release scratch file: %w", rmErr)
		}
	}()

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write download: %w", err)
	}

	path = filepath.Join(d.Dir, name)
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}
	return path, nil
}

// Filename returns "{name}.{format}"
func Filename(name string, format Format) string {
	return fmt.Sprintf("%s.%s", name, format)
}

// fallbackStem names downloads whose resource name has nothing usable
const fallbackStem = "export"

// SafeFilename returns filename unchanged when it is a plain file name.
// Anything that could address another directory, or that some platform
// rejects, has its stem slugified. The extension is kept.
func SafeFilename(filename string) string {
	if isPlainName(filename) {
		return filename
	}

	ext := filepath.Ext(filename)
	if !isPlainName(ext) {
		ext = ""
	}
	stem := slug.Make(strings.TrimSuffix(filename, ext))
	if stem == "" {
		stem = fallbackStem
	}
	return stem + strings.ToLower(ext)
}

func isPlainName(name string) bool {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return false
	}
	if strings.ContainsAny(name, `/\<>:"|?*`) || strings.TrimSpace(name) != name {
		return false
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
