package extract

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/matsen/texharvest/internal/classify"
	"github.com/ulikunitz/xz"
)

var (
	gzipMagic  = []byte{0x1F, 0x8B}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}
)

// openTarStream opens path as a tar stream, transparently decompressing
// gzip, bzip2 and xz. The returned closer releases the file and decoder.
func openTarStream(path string) (*tar.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}

	br := bufio.NewReader(f)
	magic, _ := br.Peek(len(xzMagic))

	var r io.Reader = br
	closers := []func(){func() { f.Close() }}

	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = gz
		closers = append(closers, func() { gz.Close() })
	case bytes.HasPrefix(magic, bzip2Magic):
		r = bzip2.NewReader(br)
	case bytes.HasPrefix(magic, xzMagic):
		xr, err := xz.NewReader(br)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		r = xr
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return tar.NewReader(r), closeAll, nil
}

// untar extracts path into destDir if it is a tar-family archive. It
// reports false, with nothing written, when the first header cannot be read.
// A stream that breaks part way also reports false so the caller falls back
// to gzip, mirroring how a corrupt compressed tar is handled.
func (e *Extractor) untar(path, destDir string) (bool, error) {
	tr, closeStream, err := openTarStream(path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return false, err
		}
		return false, nil
	}
	defer closeStream()

	hdr, err := tr.Next()
	if err != nil {
		return false, nil
	}

	for ; err == nil; hdr, err = tr.Next() {
		e.writeMember(tr, hdr, destDir)
	}
	if err != io.EOF {
		e.log.Warn("tar stream ended unexpectedly", map[string]interface{}{"path": filepath.Base(path), "error": err.Error()})
		return false, nil
	}
	return true, nil
}

// writeMember materialises one tar entry. Entries escaping destDir, links
// and special files are skipped; write failures are logged and skipped.
func (e *Extractor) writeMember(tr *tar.Reader, hdr *tar.Header, destDir string) {
	name := filepath.Clean(filepath.FromSlash(hdr.Name))
	if !filepath.IsLocal(name) {
		e.log.Warn("skipping unsafe tar member", map[string]interface{}{"member": hdr.Name})
		return
	}
	target := filepath.Join(destDir, name)

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0755); err != nil {
			e.log.Warn("creating member directory failed", map[string]interface{}{"member": hdr.Name, "error": err.Error()})
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			e.log.Warn("creating member parent failed", map[string]interface{}{"member": hdr.Name, "error": err.Error()})
			return
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			e.log.Warn("creating member failed", map[string]interface{}{"member": hdr.Name, "error": err.Error()})
			return
		}
		n, err := io.Copy(out, io.LimitReader(tr, e.maxMemberSize+1))
		closeErr := out.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			e.log.Warn("writing member failed", map[string]interface{}{"member": hdr.Name, "error": err.Error()})
			os.Remove(target)
			return
		}
		if n > e.maxMemberSize {
			e.log.Warn("dropping member over size cap", map[string]interface{}{"member": hdr.Name, "size": hdr.Size})
			os.Remove(target)
			return
		}
		if !hdr.ModTime.IsZero() {
			os.Chtimes(target, hdr.ModTime, hdr.ModTime)
		}
	default:
		e.log.Debug("skipping non-regular tar member", map[string]interface{}{"member": hdr.Name, "type": string(hdr.Typeflag)})
	}
}

// gunzip decompresses a single gzip stream into destDir. The output is named
// after the input with a trailing ".gz" removed. ok is false when path is
// not gzip data or the stream is corrupt; no partial output is left behind.
func (e *Extractor) gunzip(path, destDir string) (out string, ok bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", false, nil
	}
	defer gz.Close()

	name := filepath.Base(path)
	if filepath.Ext(name) == ".gz" {
		name = strings.TrimSuffix(name, ".gz")
	}
	out = filepath.Join(destDir, name)
	if out == path {
		out += ".out"
	}

	w, err := os.Create(out)
	if err != nil {
		return "", false, err
	}
	n, err := io.Copy(w, io.LimitReader(gz, e.maxMemberSize+1))
	closeErr := w.Close()
	if err != nil || closeErr != nil || n > e.maxMemberSize {
		os.Remove(out)
		if err == nil && closeErr == nil {
			e.log.Warn("decompressed stream exceeds size cap", map[string]interface{}{"path": filepath.Base(path)})
		}
		return "", false, nil
	}
	return out, true, nil
}

func isMarkup(path string) bool {
	return classify.IsMarkupFile(path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
