package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"

	"github.com/semmidev/stackvault/internal/domain"
)

type TargetStatus string

const (
	StatusNotAttempted TargetStatus = "not_attempted"
	StatusSkipped      TargetStatus = "skipped"
	StatusSucceeded    TargetStatus = "succeeded"
	StatusFailed       TargetStatus = "failed"
)

type TargetResult struct {
	Kind     domain.TargetKind
	Status   TargetStatus
	Artifact *domain.Artifact
	Size     int64
	Duration time.Duration
	Err      error

	// Set by single-target runs only.
	Uploaded  bool
	UploadErr error
}

type BatchResult struct {
	Timestamp time.Time
	Partition string
	Targets   []TargetResult

	Archive         string
	ArchiveSize     int64
	ArchiveErr      error
	ArchiveUploaded bool
	UploadErr       error

	Sweep    *SweepResult
	SweepErr error
}

func (b *BatchResult) Count(status TargetStatus) int {
	n := 0
	for _, t := range b.Targets {
		if t.Status == status {
			n++
		}
	}
	return n
}

// TotalSize sums the successful artifacts and the batch archive.
func (b *BatchResult) TotalSize() int64 {
	total := b.ArchiveSize
	for _, t := range b.Targets {
		if t.Status == StatusSucceeded {
			total += t.Size
		}
	}
	return total
}

func (b *BatchResult) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Backup %s: %d succeeded, %d skipped, %d failed, total %s\n",
		b.Timestamp.Format(domain.TimestampLayout),
		b.Count(StatusSucceeded), b.Count(StatusSkipped), b.Count(StatusFailed),
		units.HumanSize(float64(b.TotalSize())))
	for _, t := range b.Targets {
		switch t.Status {
		case StatusSucceeded:
			fmt.Fprintf(&sb, "  %-10s %s (%s)\n", t.Kind, t.Status, units.HumanSize(float64(t.Size)))
		case StatusNotAttempted:
			fmt.Fprintf(&sb, "  %-10s %s\n", t.Kind, t.Status)
		default:
			fmt.Fprintf(&sb, "  %-10s %s: %v\n", t.Kind, t.Status, t.Err)
		}
	}
	if b.Archive != "" {
		fmt.Fprintf(&sb, "  archive    %s (%s)\n", filepath.Base(b.Archive), units.HumanSize(float64(b.ArchiveSize)))
	}
	if b.ArchiveErr != nil {
		fmt.Fprintf(&sb, "  archive    failed: %v\n", b.ArchiveErr)
	}
	if b.UploadErr != nil {
		fmt.Fprintf(&sb, "  remote     failed: %v\n", b.UploadErr)
	}
	if b.SweepErr != nil {
		fmt.Fprintf(&sb, "  retention  failed: %v\n", b.SweepErr)
	} else if b.Sweep != nil {
		fmt.Fprintf(&sb, "  retention  %d local, %d remote deleted, %d files remaining\n",
			len(b.Sweep.DeletedLocal), len(b.Sweep.DeletedRemote), b.Sweep.Remaining)
	}
	return sb.String()
}

type BackupOptions struct {
	Compress      bool
	ArchiveBatch  bool
	RetentionDays int
}

type Backup struct {
	targets    []domain.Target
	local      LocalStore
	compressor domain.Compressor
	archiver   domain.Archiver
	remote     *RemoteSync
	retention  *Retention
	logger     Logger
	opts       BackupOptions

	// Optional.
	Locker   Locker
	Notifier domain.Notifier

	now func() time.Time
}

func NewBackup(
	targets []domain.Target,
	local LocalStore,
	compressor domain.Compressor,
	archiver domain.Archiver,
	remote *RemoteSync,
	retention *Retention,
	logger Logger,
	opts BackupOptions,
) *Backup {
	return &Backup{
		targets:    targets,
		local:      local,
		compressor: compressor,
		archiver:   archiver,
		remote:     remote,
		retention:  retention,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
	}
}

// RunFull backs up every configured target in order under one timestamp. Target
// failures are recorded in the result; only setup failures are returned as errors.
func (uc *Backup) RunFull(ctx context.Context) (*BatchResult, error) {
	release, err := acquire(uc.Locker, "backup run --all")
	if err != nil {
		return nil, err
	}
	defer release()

	start := uc.now()
	partition, err := uc.local.EnsurePartition(start)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{Timestamp: start, Partition: partition}
	uc.logger.Infof("Starting full backup %s of %d target(s)", start.Format(domain.TimestampLayout), len(uc.targets))

	for _, target := range uc.targets {
		result.Targets = append(result.Targets, uc.runTarget(ctx, target, partition, start))
	}

	if uc.opts.ArchiveBatch {
		uc.archive(ctx, result)
	}

	if uc.retention != nil {
		sweep, err := uc.retention.sweep(ctx, ScopeBoth, uc.opts.RetentionDays)
		result.Sweep = sweep
		if err != nil {
			uc.logger.Errorf("Retention sweep failed: %v", err)
			result.SweepErr = err
		}
	}

	uc.logger.Infof("Full backup completed in %s: %d succeeded, %d skipped, %d failed, total %s",
		uc.now().Sub(start).Round(time.Second),
		result.Count(StatusSucceeded), result.Count(StatusSkipped), result.Count(StatusFailed),
		units.HumanSize(float64(result.TotalSize())))

	uc.notify(ctx, result.Summary())
	return result, nil
}

func (uc *Backup) archive(ctx context.Context, result *BatchResult) {
	if result.Count(StatusSucceeded) == 0 {
		uc.logger.Warnf("No artifacts produced, skipping batch archive")
		return
	}

	archivePath := uc.local.GetPath(domain.BatchArchiveName(result.Timestamp))
	uc.logger.Infof("Archiving %s...", result.Partition)
	if err := uc.archiver.Archive(ctx, result.Partition, archivePath); err != nil {
		uc.logger.Errorf("Failed to create batch archive: %v", err)
		result.ArchiveErr = err
		return
	}
	result.Archive = archivePath
	if info, err := os.Stat(archivePath); err == nil {
		result.ArchiveSize = info.Size()
	}
	uc.logger.Infof("Batch archive created: %s (%s)", filepath.Base(archivePath), units.HumanSize(float64(result.ArchiveSize)))

	if !uc.remote.Enabled() {
		return
	}
	if err := uc.remote.Upload(ctx, archivePath); err != nil {
		uc.logger.Errorf("Failed to upload batch archive: %v", err)
		result.UploadErr = err
		return
	}
	result.ArchiveUploaded = true
}

// RunSingle backs up one target and copies its artifact to the remote store.
func (uc *Backup) RunSingle(ctx context.Context, kind domain.TargetKind) (*TargetResult, error) {
	target := uc.find(kind)
	if target == nil {
		return nil, fmt.Errorf("%w: target %s is not enabled", domain.ErrConfigurationInvalid, kind)
	}

	release, err := acquire(uc.Locker, "backup run --target "+string(kind))
	if err != nil {
		return nil, err
	}
	defer release()

	start := uc.now()
	partition, err := uc.local.EnsurePartition(start)
	if err != nil {
		return nil, err
	}

	result := uc.runTarget(ctx, target, partition, start)
	if result.Status == StatusSucceeded && uc.remote.Enabled() {
		if err := uc.remote.Upload(ctx, result.Artifact.Path); err != nil {
			uc.logger.Errorf("[%s] Failed to upload to remote: %v", kind, err)
			result.UploadErr = err
		} else {
			result.Uploaded = true
		}
	}
	return &result, nil
}

func (uc *Backup) find(kind domain.TargetKind) domain.Target {
	for _, t := range uc.targets {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

func (uc *Backup) runTarget(ctx context.Context, target domain.Target, partition string, ts time.Time) (result TargetResult) {
	kind := target.Kind()
	result = TargetResult{Kind: kind, Status: StatusNotAttempted}
	start := uc.now()
	defer func() { result.Duration = uc.now().Sub(start) }()

	if err := ctx.Err(); err != nil {
		result.Err = err
		return result
	}

	if err := target.Ping(ctx); err != nil {
		result.Err = err
		if errors.Is(err, domain.ErrServiceUnavailable) {
			uc.logger.Warnf("[%s] Skipped: %v", kind, err)
			result.Status = StatusSkipped
		} else {
			uc.logger.Errorf("[%s] Liveness check failed: %v", kind, err)
			result.Status = StatusFailed
		}
		return result
	}

	artifact, err := uc.produce(ctx, target, partition, ts)
	if err != nil {
		uc.logger.Errorf("[%s] Backup failed: %v", kind, err)
		result.Status = StatusFailed
		result.Err = err
		result.Artifact = artifact
		return result
	}

	size, _ := artifact.Size()
	result.Status = StatusSucceeded
	result.Artifact = artifact
	result.Size = size
	uc.logger.Infof("[%s] Backup completed: %s (%s)", kind, artifact.Filename(), units.HumanSize(float64(size)))
	return result
}

// produce writes the artifact under a .tmp name, renames it into place, then compresses.
// When compression fails the uncompressed artifact is returned along with the error.
func (uc *Backup) produce(ctx context.Context, target domain.Target, partition string, ts time.Time) (*domain.Artifact, error) {
	kind := target.Kind()
	artifact := &domain.Artifact{Kind: kind, Timestamp: ts}
	finalPath := filepath.Join(partition, artifact.Filename())
	tmpPath := finalPath + ".tmp"

	uc.logger.Infof("[%s] Creating backup to: %s", kind, finalPath)
	if err := target.Backup(ctx, tmpPath); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("finalize artifact: %w", err)
	}
	artifact.Path = finalPath

	if !uc.opts.Compress {
		return artifact, nil
	}

	compressedPath := finalPath + domain.CompressedSuffix
	uc.logger.Infof("[%s] Compressing backup...", kind)
	if err := uc.compressor.Compress(finalPath, compressedPath); err != nil {
		return artifact, fmt.Errorf("compression: %w", err)
	}
	if err := os.Remove(finalPath); err != nil {
		uc.logger.Warnf("[%s] Failed to remove uncompressed artifact: %v", kind, err)
	}
	artifact.Path = compressedPath
	artifact.Compressed = true
	return artifact, nil
}

func (uc *Backup) notify(ctx context.Context, message string) {
	if uc.Notifier == nil {
		return
	}
	if err := uc.Notifier.Notify(ctx, message); err != nil {
		uc.logger.Warnf("Failed to send notification: %v", err)
	}
}
