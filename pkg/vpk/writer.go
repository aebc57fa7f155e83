// Package vpk writes Vita package archives. A .vpk is a plain zip file
// with eboot.bin and sce_sys/param.sfo at fixed locations; the Vita
// installer reads nothing else from the container itself.
package vpk

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Writer can write .vpk archives
type Writer struct {
	hdl    *os.File
	zw     *zip.Writer
	seen   map[string]bool
	buffer []byte
}

// NewWriter creates a new Writer instance and opens it for writing
func NewWriter(filename string) (*Writer, error) {
	hdl, err := os.Create(filename)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to create %s", filename)
	}

	return &Writer{
		hdl:    hdl,
		zw:     zip.NewWriter(hdl),
		seen:   map[string]bool{},
		buffer: make([]byte, 4096),
	}, nil
}

// WriteFile creates a new deflate compressed entry in the archive. Entry
// names use forward slashes and every name can only be written once, which
// guarantees a single eboot.bin per package.
func (w *Writer) WriteFile(name string, reader io.Reader) error {
	name = path.Clean(filepath.ToSlash(name))
	if name == "." || name == ".." || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/") {
		return eris.Errorf("invalid archive path %q", name)
	}

	if w.seen[name] {
		return eris.Errorf("duplicate archive entry %s", name)
	}
	w.seen[name] = true

	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	})
	if err != nil {
		return eris.Wrapf(err, "failed to create archive entry %s", name)
	}

	_, err = io.CopyBuffer(entry, reader, w.buffer)
	if err != nil {
		return eris.Wrapf(err, "failed to write archive entry %s", name)
	}

	return nil
}

// Close writes the central directory and closes the archive
func (w *Writer) Close() error {
	err := w.zw.Close()
	if err != nil {
		w.hdl.Close()
		return eris.Wrap(err, "failed to finalize the archive")
	}

	err = w.hdl.Close()
	if err != nil {
		return eris.Wrap(err, "failed to close the archive")
	}

	return nil
}
