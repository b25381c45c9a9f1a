package database

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

const (
	redisSnapshotFile     = "dump.rdb"
	defaultPollInterval   = 500 * time.Millisecond
	defaultSnapshotWindow = 5 * time.Minute
)

type RedisDatabase struct {
	base
	PollInterval    time.Duration
	SnapshotTimeout time.Duration
}

func NewRedis(cfg config.TargetConfig, rt domain.ContainerRuntime) *RedisDatabase {
	if cfg.DataDir == "" {
		cfg.DataDir = "/data"
	}
	return &RedisDatabase{
		base:            base{kind: domain.KindRedis, config: cfg, runtime: rt},
		PollInterval:    defaultPollInterval,
		SnapshotTimeout: defaultSnapshotWindow,
	}
}

func (r *RedisDatabase) snapshotPath() string {
	return path.Join(r.config.DataDir, redisSnapshotFile)
}

// Backup triggers BGSAVE, waits until the server reports the save finished, then
// copies the snapshot out of the container.
func (r *RedisDatabase) Backup(ctx context.Context, outputPath string) error {
	if err := r.Ping(ctx); err != nil {
		return err
	}

	before, err := r.lastSave(ctx)
	if err != nil {
		return err
	}

	reply, err := r.cli(ctx, "BGSAVE")
	if err != nil {
		return err
	}
	if strings.HasPrefix(reply, "ERR") && !strings.Contains(reply, "in progress") {
		return fmt.Errorf("%w: redis BGSAVE: %s", domain.ErrToolInvocation, reply)
	}
	accepted := time.Now()

	if err := r.waitForSnapshot(ctx, before, accepted); err != nil {
		return err
	}

	if err := r.runtime.CopyFrom(ctx, r.config.Container, r.snapshotPath(), outputPath); err != nil {
		return fmt.Errorf("copy redis snapshot: %w", err)
	}
	return nil
}

// waitForSnapshot returns once no save is running and one of these holds:
// LASTSAVE moved past before, a save was seen in progress, or a full poll
// interval passed since BGSAVE was accepted. LASTSAVE has one-second
// resolution, so a fast save in the same second as the previous one only
// satisfies the last condition.
func (r *RedisDatabase) waitForSnapshot(ctx context.Context, before int64, accepted time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, r.SnapshotTimeout)
	defer cancel()

	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	sawInProgress := false
	for {
		info, err := r.cli(ctx, "INFO", "persistence")
		if err != nil {
			return err
		}
		fields := parseInfo(info)

		if fields["rdb_bgsave_in_progress"] == "1" {
			sawInProgress = true
		} else {
			if status := fields["rdb_last_bgsave_status"]; status != "" && status != "ok" {
				return fmt.Errorf("%w: redis background save reported status %q", domain.ErrToolInvocation, status)
			}
			last, err := r.lastSave(ctx)
			if err != nil {
				return err
			}
			if last > before || sawInProgress || time.Since(accepted) >= r.PollInterval {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: redis background save did not finish within %s", domain.ErrToolInvocation, r.SnapshotTimeout)
		case <-ticker.C:
		}
	}
}

func (r *RedisDatabase) lastSave(ctx context.Context) (int64, error) {
	reply, err := r.cli(ctx, "LASTSAVE")
	if err != nil {
		return 0, err
	}
	ts, err := strconv.ParseInt(strings.TrimPrefix(reply, "(integer) "), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unexpected LASTSAVE reply %q", domain.ErrToolInvocation, reply)
	}
	return ts, nil
}

func (r *RedisDatabase) cli(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	err := r.runtime.Exec(ctx, domain.ExecRequest{
		Container: r.config.Container,
		Command:   append([]string{"redis-cli"}, args...),
		Env:       secretEnv("REDISCLI_AUTH", r.config.Password),
		Stdout:    &out,
	})
	if err != nil {
		return "", fmt.Errorf("redis-cli %s: %w", args[0], err)
	}
	return strings.TrimSpace(out.String()), nil
}

func parseInfo(info string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	return fields
}

// Restore stops the container, replaces its snapshot file and starts it again.
// The container is restarted even when the copy fails. With appendonly enabled
// redis loads the AOF on start and ignores the replaced snapshot.
func (r *RedisDatabase) Restore(ctx context.Context, inputPath string) error {
	if err := r.Ping(ctx); err != nil {
		return err
	}

	if err := r.runtime.Stop(ctx, r.config.Container); err != nil {
		return fmt.Errorf("stop redis container: %w", err)
	}

	copyErr := r.runtime.CopyTo(ctx, inputPath, r.config.Container, r.snapshotPath())

	if err := r.runtime.Start(ctx, r.config.Container); err != nil {
		if copyErr != nil {
			return fmt.Errorf("replace redis snapshot: %w (restart also failed: %v)", copyErr, err)
		}
		return fmt.Errorf("start redis container: %w", err)
	}
	if copyErr != nil {
		return fmt.Errorf("replace redis snapshot: %w", copyErr)
	}
	return nil
}
