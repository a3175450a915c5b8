// Package tarball moves dataset directories as gzipped tar streams.
package tarball

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Content type of tar.gz streams in transit.
const MimeTarGz = "application/tar+gzip"

// Tar writes everything under root into dest as a tar.gz stream. Entry names
// are relative to root. Symlinks are not followed.
func Tar(ctx context.Context, root string, dest io.Writer) error {
	absroot, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dest)
	tw := tar.NewWriter(gzw)

	err = filepath.WalkDir(absroot, func(fullpath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		relpath, err := filepath.Rel(absroot, fullpath)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = relpath
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		fp, err := os.Open(fullpath)
		if err != nil {
			return err
		}
		defer fp.Close()
		_, err = io.Copy(tw, fp)
		return err
	})
	if err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gzw.Close()
}

// Untar extracts a tar.gz stream into dest, creating it if needed.
// Non-regular entries are skipped.
func Untar(ctx context.Context, src io.Reader, dest string) error {
	gzr, err := gzip.NewReader(src)
	if err != nil {
		return err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Name == "" || hdr.Typeflag != tar.TypeReg {
			continue
		}

		fullpath := filepath.Join(dest, filepath.Clean("/"+hdr.Name))
		if err := os.MkdirAll(filepath.Dir(fullpath), 0o755); err != nil {
			return err
		}

		err = func() error {
			fp, err := os.OpenFile(fullpath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode).Perm())
			if err != nil {
				return err
			}
			defer fp.Close()
			_, err = io.Copy(fp, tr)
			return err
		}()
		if err != nil {
			return err
		}
	}
}
