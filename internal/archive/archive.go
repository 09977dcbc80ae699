// Package archive exports and imports a digger-captured or autoprofiled
// layer directory as a .tar.zst: a captured environment is otherwise left
// as a bare directory tree with a sibling .digger.conf, which is awkward
// to ship to another host.
//
// The walk-and-archive / decode-and-extract shape is the same one used
// elsewhere in this codebase for Bazel build-output tarring (regular
// files, symlinks, directories), generalized here to a full layer-tree
// round trip that also preserves file modes, since a captured layer's
// executable bits matter to check-binaries.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Export walks srcDir and writes a .tar.zst archive of its contents
// (relative to srcDir) to dest. Regular files, directories, and symlinks
// are supported; anything else is rejected, since a layer tree produced
// by digger or autoprofile never contains device nodes or sockets.
func Export(srcDir, dest string) error {
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", dest, err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("archive: zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == srcDir {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("archive: stat %s: %w", path, err)
		}

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return fmt.Errorf("archive: readlink %s: %w", path, err)
			}
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeSymlink,
				Name:     rel,
				Linkname: target,
				Mode:     int64(info.Mode().Perm()),
			})

		case d.IsDir():
			return tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeDir,
				Name:     rel + "/",
				Mode:     int64(info.Mode().Perm()),
			})

		case info.Mode().IsRegular():
			if err := tw.WriteHeader(&tar.Header{
				Typeflag: tar.TypeReg,
				Name:     rel,
				Size:     info.Size(),
				Mode:     int64(info.Mode().Perm()),
			}); err != nil {
				return err
			}
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("archive: open %s: %w", path, err)
			}
			defer f.Close()
			_, err = io.Copy(tw, f)
			return err

		default:
			return fmt.Errorf("archive: %s: unsupported file type %v", path, info.Mode())
		}
	})
	if err != nil {
		return fmt.Errorf("archive: export %s: %w", srcDir, err)
	}
	return nil
}

// Import extracts the .tar.zst archive at src into destDir, which must
// already exist. Entries are applied in archive order; a well-formed
// export always lists a directory before its contents.
func Import(src, destDir string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := zstd.NewReader(in, zstd.WithDecoderConcurrency(0))
	if err != nil {
		return fmt.Errorf("archive: zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("archive: import %s: %w", src, err)
		}

		path := filepath.Join(destDir, header.Name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, fs.FileMode(header.Mode).Perm()); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", path, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(header.Linkname, path); err != nil {
				return fmt.Errorf("archive: symlink %s -> %s: %w", path, header.Linkname, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("archive: mkdir %s: %w", filepath.Dir(path), err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(header.Mode).Perm())
			if err != nil {
				return fmt.Errorf("archive: create %s: %w", path, err)
			}
			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return fmt.Errorf("archive: write %s: %w", path, err)
			}
		default:
			return fmt.Errorf("archive: %s: unsupported tar entry type %#x", header.Name, header.Typeflag)
		}
	}
	return nil
}
