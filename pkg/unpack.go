package pkg

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
)

func (p *Package) isVita() bool {
	switch p.PackageType() {
	case PackageTypeVitaApp, PackageTypeVitaDLC, PackageTypeVitaPatch:
		return true
	}
	return false
}

// unpackLoop extracts every entry into w. Vita packages also get the raw
// head, tail and license files a console needs to install them.
func (p *Package) unpackLoop(ctx context.Context, w pkgWriter, options ...ExtractOption) error {
	if err := p.ExtractAll(ctx, sinkFor(w), options...); err != nil {
		return err
	}

	if !p.isVita() {
		return nil
	}

	p.mu.RLock()
	ps3, ok := p.v.(*ps3PKG)
	p.mu.RUnlock()
	if !ok {
		return ErrClosed
	}

	err := w.CreateDir("sce_sys/package")
	if err != nil {
		return err
	}

	headOff, headLen := ps3.headRange()
	if err := p.copyRaw(w, "sce_sys/package/head.bin", headOff, headLen); err != nil {
		return err
	}

	tailOff, tailLen := ps3.tailRange()
	if err := p.copyRaw(w, "sce_sys/package/tail.bin", tailOff, tailLen); err != nil {
		return err
	}

	return writeFile(w, "sce_sys/package/work.bin", bytes.NewReader(ps3.rif))
}

func (p *Package) copyRaw(w pkgWriter, name string, off, n int64) error {
	data, err := readAt(name, p.src, off, n)
	if err != nil {
		return err
	}

	return writeFile(w, name, bytes.NewReader(data))
}

func writeFile(w pkgWriter, name string, r io.Reader) error {
	f, err := w.CreateFile(name)
	if err != nil {
		return err
	}

	_, err = io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}

	return err
}

// baseDir is where a package unpacks to, relative to the output directory.
func (p *Package) baseDir() string {
	titleid := p.GetTitleID()

	switch p.PackageType() {
	case PackageTypeVitaApp:
		return path.Join("app", titleid)
	case PackageTypeVitaDLC:
		p.mu.RLock()
		defer p.mu.RUnlock()
		if ps3, ok := p.v.(*ps3PKG); ok {
			return path.Join("cont", titleid, ps3.hdr.GetContentName())
		}
		return path.Join("cont", titleid)
	case PackageTypeVitaPatch:
		return path.Join("patch", titleid)
	case PackageTypePSP, PackageTypePSOne:
		return path.Join("pspemu", titleid)
	}

	if h, err := p.Header(); err == nil && h.GetContentID() != "" {
		return h.GetContentID()
	}

	return strings.ToLower(p.Format().String())
}

// Unpack extracts the package below outDir.
func (p *Package) Unpack(ctx context.Context, outDir string, options ...ExtractOption) error {
	basedir := path.Join(outDir, p.baseDir())

	err := os.MkdirAll(basedir, 0755)
	if err != nil {
		return err
	}

	return p.unpackLoop(ctx, &fsPkgWriter{basedir: basedir}, options...)
}

// zipName builds the archive name from the title, title ID and region.
func (p *Package) zipName() string {
	title := p.GetTitle()
	titleid := p.GetTitleID()
	region := p.GetRegion()

	switch p.PackageType() {
	case PackageTypeVitaDLC:
		contentName := path.Base(p.baseDir())
		return fmt.Sprintf("%s [%s] [%s] [%s].zip", title, titleid, region, contentName)
	case PackageTypeVitaPatch:
		sfo, _ := p.SFO()
		appVer := strings.TrimLeft(sfo["APP_VER"], "0")
		return fmt.Sprintf("%s [%s] [%s] [PATCH] [v%s].zip", title, titleid, region, appVer)
	}

	if title == "" {
		return fmt.Sprintf("%s.zip", path.Base(p.baseDir()))
	}

	return fmt.Sprintf("%s [%s] [%s].zip", title, titleid, region)
}

// CreateZip stores the package in an uncompressed zip inside outDir and
// returns the path of the archive.
func (p *Package) CreateZip(ctx context.Context, outDir string) (string, error) {
	filepath := path.Join(outDir, strings.ReplaceAll(p.zipName(), "/", "_"))

	zf, err := os.Create(filepath)
	if err != nil {
		return "", err
	}

	defer zf.Close()

	zipWriter := zip.NewWriter(zf)

	// zip entries are written one after another
	err = p.unpackLoop(ctx, &zipPkgWriter{zipWriter: zipWriter, basedir: p.baseDir()}, WithWorkers(1))
	if cerr := zipWriter.Close(); err == nil {
		err = cerr
	}

	return filepath, err
}
