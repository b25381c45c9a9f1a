package domain

import "context"

type Compressor interface {
	Compress(sourcePath, destPath string) error
	Decompress(sourcePath, destPath string) error
}

type Archiver interface {
	// Archive packs sourceDir into a tar.gz at destPath; entries are relative to sourceDir's parent.
	Archive(ctx context.Context, sourceDir, destPath string) error
	Extract(ctx context.Context, archivePath, destDir string) error
}
