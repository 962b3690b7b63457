package source

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	. "github.com/warpfork/go-errcat"
	"github.com/xi2/xz"

	"go.stowage.net/stowage/api/stowage"
)

// Magic bytes for sniffing the compression wrapper on a tar stream.
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZip  = []byte{'P', 'K', 0x03, 0x04}
)

/*
	Extract an archive into destDir and return the directory that holds the
	repository: when the archive wraps everything in a single top-level
	directory (the common snapshot layout), that directory; otherwise
	destDir itself.
*/
func extractArchive(pth string, destDir string) (string, error) {
	f, err := os.Open(pth)
	if err != nil {
		return "", Errorf(stowage.ErrSourceUnavailable, "cannot open archive: %s", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	peek, _ := br.Peek(6)
	switch {
	case bytes.HasPrefix(peek, magicZip):
		if err := extractZip(pth, destDir); err != nil {
			return "", err
		}
	default:
		reader, err := decompress(br, peek)
		if err != nil {
			return "", err
		}
		if err := extractTar(reader, destDir); err != nil {
			return "", err
		}
	}
	return soleSubdir(destDir), nil
}

// Wrap the stream with decompression as called for by its magic bytes.
func decompress(r io.Reader, peek []byte) (io.Reader, error) {
	switch {
	case bytes.HasPrefix(peek, magicGzip):
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, Errorf(stowage.ErrSourceRead, "corrupt archive compression: %s", err)
		}
		return zr, nil
	case bytes.HasPrefix(peek, magicXz):
		zr, err := xz.NewReader(r, 0)
		if err != nil {
			return nil, Errorf(stowage.ErrSourceRead, "corrupt archive compression: %s", err)
		}
		return zr, nil
	default:
		return r, nil
	}
}

func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return Errorf(stowage.ErrSourceRead, "corrupt archive: %s", err)
		}
		target, err := reroot(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
			w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0777)
			if err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
			_, err = io.Copy(w, tr)
			w.Close()
			if err != nil {
				return Errorf(stowage.ErrSourceRead, "corrupt archive: %s", err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
		default:
			// Hardlinks, devices, fifos: not expected in repository
			// snapshots; skip rather than fail the whole extraction.
		}
	}
}

func extractZip(pth string, destDir string) error {
	zr, err := zip.OpenReader(pth)
	if err != nil {
		return Errorf(stowage.ErrSourceRead, "corrupt archive: %s", err)
	}
	defer zr.Close()
	for _, zf := range zr.File {
		target, err := reroot(destDir, zf.Name)
		if err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
		}
		rc, err := zf.Open()
		if err != nil {
			return Errorf(stowage.ErrSourceRead, "corrupt archive: %s", err)
		}
		w, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, zf.Mode()&0777)
		if err != nil {
			rc.Close()
			return Errorf(stowage.ErrLocalScratchProblem, "error extracting: %s", err)
		}
		_, err = io.Copy(w, rc)
		w.Close()
		rc.Close()
		if err != nil {
			return Errorf(stowage.ErrSourceRead, "corrupt archive: %s", err)
		}
	}
	return nil
}

// Join an archive member name under destDir, refusing names that would
// land outside it.
func reroot(destDir string, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return "", Errorf(stowage.ErrSourceRead, "corrupt archive: member path %q escapes extraction root", name)
	}
	return target, nil
}

func soleSubdir(dir string) string {
	entries, err := ioutil.ReadDir(dir)
	if err != nil || len(entries) != 1 || !entries[0].IsDir() {
		return dir
	}
	return filepath.Join(dir, entries[0].Name())
}
