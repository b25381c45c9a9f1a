package domain

import "context"

// RemoteStore is an S3-compatible object store addressed by full keys.
type RemoteStore interface {
	Upload(ctx context.Context, localPath, key string) error
	Download(ctx context.Context, key, localPath string) error
	// ListPrefixes returns the immediate child "folders" under prefix, without slashes.
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]RemoteObject, error)
	Identity(ctx context.Context) (string, error)
}
