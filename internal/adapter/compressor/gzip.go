package compressor

import (
	"fmt"
	"io"
	"os"

	"github.com/klauspost/pgzip"
)

const tmpSuffix = ".tmp"

type GzipCompressor struct {
	Level int
}

func NewGzip() *GzipCompressor {
	return &GzipCompressor{Level: pgzip.BestCompression}
}

// Compress gzips sourcePath into destPath. Output goes to destPath.tmp first and
// is renamed into place only when the stream was fully written.
func (g *GzipCompressor) Compress(sourcePath, destPath string) (retErr error) {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	tmpPath := destPath + tmpSuffix
	destFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if retErr != nil {
			destFile.Close()
			os.Remove(tmpPath)
		}
	}()

	gzipWriter, err := pgzip.NewWriterLevel(destFile, g.Level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}

	if _, err := io.Copy(gzipWriter, sourceFile); err != nil {
		gzipWriter.Close()
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err := gzipWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}
	if err := destFile.Close(); err != nil {
		return fmt.Errorf("failed to close dest file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename compressed file: %w", err)
	}
	return nil
}

// Decompress inflates sourcePath into destPath using the same temp-then-rename scheme.
func (g *GzipCompressor) Decompress(sourcePath, destPath string) (retErr error) {
	sourceFile, err := os.Open(sourcePath)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	gzipReader, err := pgzip.NewReader(sourceFile)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzipReader.Close()

	tmpPath := destPath + tmpSuffix
	destFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}
	defer func() {
		if retErr != nil {
			destFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(destFile, gzipReader); err != nil {
		return fmt.Errorf("failed to decompress: %w", err)
	}
	if err := destFile.Close(); err != nil {
		return fmt.Errorf("failed to close dest file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename decompressed file: %w", err)
	}
	return nil
}
