package domain

import "context"

// Target is one managed data service.
type Target interface {
	Kind() TargetKind
	// Ping reports ErrServiceUnavailable when the service container is not running.
	Ping(ctx context.Context) error
	Backup(ctx context.Context, outputPath string) error
	// Restore replays an uncompressed artifact into the live service.
	Restore(ctx context.Context, inputPath string) error
}
