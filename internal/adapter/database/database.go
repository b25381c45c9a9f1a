package database

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

// base holds what every container-hosted target shares.
type base struct {
	kind    domain.TargetKind
	config  config.TargetConfig
	runtime domain.ContainerRuntime
}

func (b *base) Kind() domain.TargetKind {
	return b.kind
}

func (b *base) Ping(ctx context.Context) error {
	running, err := b.runtime.IsRunning(ctx, b.config.Container)
	if err != nil {
		return fmt.Errorf("%s liveness check: %w", b.kind, err)
	}
	if !running {
		return fmt.Errorf("%w: %s container %q is not running", domain.ErrServiceUnavailable, b.kind, b.config.Container)
	}
	return nil
}

// dumpTo runs command inside the container with stdout redirected to outputPath.
func (b *base) dumpTo(ctx context.Context, outputPath string, env map[string]string, command ...string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	err = b.runtime.Exec(ctx, domain.ExecRequest{
		Container: b.config.Container,
		Command:   command,
		Env:       env,
		Stdout:    out,
	})
	if closeErr := out.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close output file: %w", closeErr)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", command[0], err)
	}
	return nil
}

// pipeFrom runs command inside the container with inputPath as stdin.
func (b *base) pipeFrom(ctx context.Context, inputPath string, env map[string]string, command ...string) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer in.Close()

	err = b.runtime.Exec(ctx, domain.ExecRequest{
		Container: b.config.Container,
		Command:   command,
		Env:       env,
		Stdin:     in,
	})
	if err != nil {
		return fmt.Errorf("%s failed: %w", command[0], err)
	}
	return nil
}

// secretEnv returns {name: value} when value is set, nil otherwise.
func secretEnv(name, value string) map[string]string {
	if value == "" {
		return nil
	}
	return map[string]string{name: value}
}

type Options struct {
	// SnapshotTimeout bounds the wait for a redis background save.
	SnapshotTimeout time.Duration
}

// New builds the adapter for kind.
func New(kind domain.TargetKind, cfg config.TargetConfig, rt domain.ContainerRuntime, opts Options) (domain.Target, error) {
	switch kind {
	case domain.KindMySQL:
		return NewMySQL(cfg, rt), nil
	case domain.KindPostgres:
		return NewPostgreSQL(cfg, rt), nil
	case domain.KindRedis:
		r := NewRedis(cfg, rt)
		if opts.SnapshotTimeout > 0 {
			r.SnapshotTimeout = opts.SnapshotTimeout
		}
		return r, nil
	case domain.KindClickHouse:
		return NewClickHouse(cfg, rt), nil
	}
	return nil, fmt.Errorf("%w: unsupported target kind %q", domain.ErrConfigurationInvalid, kind)
}
