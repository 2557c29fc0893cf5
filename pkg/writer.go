package pkg

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"
)

// pkgWriter is a destination for unpacked entries.
type pkgWriter interface {
	CreateDir(name string) error
	CreateFile(name string) (io.WriteCloser, error)
}

// safeJoin keeps entry names from escaping basedir.
func safeJoin(basedir, name string) string {
	return path.Join(basedir, path.Clean("/" + name)[1:])
}

// sinkFor adapts w to ExtractAll.
func sinkFor(w pkgWriter) SinkFunc {
	return func(e FileEntry) (io.WriteCloser, error) {
		if e.IsDir() {
			return nil, w.CreateDir(e.Name)
		}
		return w.CreateFile(e.Name)
	}
}

type fsPkgWriter struct {
	basedir string
}

type zipPkgWriter struct {
	basedir   string
	zipWriter *zip.Writer
	// the zip writer takes one file at a time
	mu sync.Mutex
}

func (fs *fsPkgWriter) CreateDir(name string) error {
	fullPath := filepath.FromSlash(safeJoin(fs.basedir, name))
	return os.MkdirAll(fullPath, 0755)
}

func (fs *fsPkgWriter) CreateFile(name string) (io.WriteCloser, error) {
	fullPath := filepath.FromSlash(safeJoin(fs.basedir, name))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, err
	}

	return os.Create(fullPath)
}

func (fs *zipPkgWriter) CreateDir(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fullPath := safeJoin(fs.basedir, name)
	header := &zip.FileHeader{
		Name:          fullPath + "/",
		ExternalAttrs: 0x10, // directory
	}

	header.Modified = time.Now()

	_, err := fs.zipWriter.CreateHeader(header)
	if err != nil {
		return err
	}

	return nil
}

// CreateFile holds the zip writer until the returned file is closed.
func (fs *zipPkgWriter) CreateFile(name string) (io.WriteCloser, error) {
	fs.mu.Lock()

	fullPath := safeJoin(fs.basedir, name)
	header := &zip.FileHeader{
		Name: fullPath,
	}

	header.Modified = time.Now()
	header.Method = zip.Store

	pf, err := fs.zipWriter.CreateHeader(header)
	if err != nil {
		fs.mu.Unlock()
		return nil, err
	}

	return &zipFile{Writer: pf, release: fs.mu.Unlock}, nil
}

type zipFile struct {
	io.Writer
	release func()
}

func (z *zipFile) Close() error {
	z.release()
	return nil
}
