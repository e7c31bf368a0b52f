package releases

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

var ErrUnsafePath = errors.New("archive entry escapes destination")

// IsArchive reports whether name has an extension Extract understands.
func IsArchive(name string) bool {
	return archiveKind(name) != ""
}

func archiveKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".tar.zst"), strings.HasSuffix(lower, ".tzst"):
		return "tar.zst"
	case strings.HasSuffix(lower, ".tar"):
		return "tar"
	}
	return ""
}

// Extract unpacks the archive at path into dest. Entries that would land
// outside dest, directly or through a symlink unpacked earlier, are rejected. File modes, including exec bits, are kept.
func Extract(path, dest string) error {
	switch archiveKind(path) {
	case "zip":
		return extractZip(path, dest)
	case "tar", "tar.gz", "tar.zst":
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		return extractTarStream(file, archiveKind(path), dest)
	}
	return fmt.Errorf("unsupported archive %q", filepath.Base(path))
}

func extractTarStream(r io.Reader, kind, dest string) error {
	switch kind {
	case "tar.gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return fmt.Errorf("open gzip: %w", err)
		}
		defer gz.Close()
		r = gz
	case "tar.zst":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("open zstd: %w", err)
		}
		defer zr.Close()
		r = zr
	}

	reader := tar.NewReader(r)
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		target, err := safeJoin(dest, header.Name)
		if err != nil {
			return err
		}
		mode := os.FileMode(header.Mode).Perm()
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, dirMode(mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, reader, mode); err != nil {
				return err
			}
		case tar.TypeSymlink:
			resolved := filepath.Join(filepath.Dir(target), filepath.FromSlash(header.Linkname))
			if filepath.IsAbs(header.Linkname) || !within(dest, resolved) {
				return fmt.Errorf("%w: link %s -> %s", ErrUnsafePath, header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		}
	}
}

func extractZip(path, dest string) error {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer archive.Close()

	for _, entry := range archive.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}
		mode := entry.Mode()
		if mode.IsDir() {
			if err := os.MkdirAll(target, dirMode(mode.Perm())); err != nil {
				return err
			}
			continue
		}
		if !mode.IsRegular() {
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", entry.Name, err)
		}
		err = writeFile(target, src, mode.Perm())
		src.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(filepath.Clean(dest), filepath.FromSlash(name))
	if !within(dest, target) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	if err := noLinkedParents(dest, target); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnsafePath, name, err)
	}
	return target, nil
}

// noLinkedParents fails when any directory between dest and target is a
// symlink.
func noLinkedParents(dest, target string) error {
	rel, err := filepath.Rel(filepath.Clean(dest), filepath.Dir(target))
	if err != nil || rel == "." {
		return err
	}
	current := filepath.Clean(dest)
	for _, part := range strings.Split(rel, string(os.PathSeparator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%s is a link", current)
		}
	}
	return nil
}

func within(dest, target string) bool {
	cleanDest := filepath.Clean(dest)
	target = filepath.Clean(target)
	return target == cleanDest || strings.HasPrefix(target, cleanDest+string(os.PathSeparator))
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&os.ModeSymlink != 0 {
		if err := os.Remove(target); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, r); err != nil {
		file.Close()
		return fmt.Errorf("write %s: %w", target, err)
	}
	if err := file.Close(); err != nil {
		return err
	}
	// OpenFile applies the umask; restore the archived bits.
	return os.Chmod(target, mode)
}

func dirMode(mode os.FileMode) os.FileMode {
	if mode == 0 {
		return 0o755
	}
	return mode | 0o700
}
