package domain

import (
	"context"
	"io"
)

type ExecRequest struct {
	Container string
	Command   []string
	// Env is forwarded into the container by name only; values never reach argv.
	Env    map[string]string
	Stdin  io.Reader
	Stdout io.Writer
}

// ContainerRuntime runs client binaries inside service containers.
type ContainerRuntime interface {
	IsRunning(ctx context.Context, container string) (bool, error)
	Exec(ctx context.Context, req ExecRequest) error
	CopyFrom(ctx context.Context, container, srcPath, dstPath string) error
	CopyTo(ctx context.Context, srcPath, container, dstPath string) error
	Stop(ctx context.Context, container string) error
	Start(ctx context.Context, container string) error
}
