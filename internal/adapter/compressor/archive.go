package compressor

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
)

// TarGzArchiver packs directories into tar.gz files and unpacks them again.
type TarGzArchiver struct {
	Level int
}

func NewTarGz() *TarGzArchiver {
	return &TarGzArchiver{Level: pgzip.DefaultCompression}
}

// Archive writes sourceDir into destPath. Entry names are relative to the parent of
// sourceDir, so the archive unpacks into a directory named after sourceDir.
func (a *TarGzArchiver) Archive(ctx context.Context, sourceDir, destPath string) (retErr error) {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to stat source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("archive source %s is not a directory", sourceDir)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".stackvault-archive-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	bw := bufio.NewWriter(tmp)
	gz, err := pgzip.NewWriterLevel(bw, a.Level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	parent := filepath.Dir(filepath.Clean(sourceDir))
	walkErr := filepath.WalkDir(sourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return addEntry(tw, parent, path, d)
	})
	if walkErr != nil {
		return fmt.Errorf("failed to write archive: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp archive: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}
	return nil
}

func addEntry(tw *tar.Writer, parent, path string, d fs.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	// Only directories and regular files; in-flight temp files are skipped.
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil
	}
	if !info.IsDir() && strings.HasSuffix(path, tmpSuffix) {
		return nil
	}

	rel, err := filepath.Rel(parent, path)
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.ToSlash(rel)
	if info.IsDir() {
		header.Name += "/"
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(tw, f)
	return err
}

// Extract unpacks archivePath below destDir. Entries that would land outside
// destDir are rejected.
func (a *TarGzArchiver) Extract(ctx context.Context, archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	root := filepath.Clean(destDir)
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create extraction directory: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read archive: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", header.Name)
		}
		mode := os.FileMode(header.Mode).Perm()

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode|0700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			if err := writeEntry(tr, target, mode); err != nil {
				return err
			}
		}
	}
}

func writeEntry(r io.Reader, target string, mode os.FileMode) error {
	os.Remove(target)
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
