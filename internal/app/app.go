package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/semmidev/stackvault/internal/adapter/compressor"
	"github.com/semmidev/stackvault/internal/adapter/container"
	"github.com/semmidev/stackvault/internal/adapter/crontab"
	"github.com/semmidev/stackvault/internal/adapter/database"
	"github.com/semmidev/stackvault/internal/adapter/notify"
	"github.com/semmidev/stackvault/internal/adapter/storage"
	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
	"github.com/semmidev/stackvault/internal/infrastructure/lockfile"
	"github.com/semmidev/stackvault/internal/infrastructure/logger"
	"github.com/semmidev/stackvault/internal/infrastructure/scheduler"
	"github.com/semmidev/stackvault/internal/usecase"
)

type Options struct {
	// ConfigPath is forwarded to scheduled commands.
	ConfigPath string
	// Console disables the log file, for read-only commands.
	Console bool
}

// App wires the configured adapters into the use cases the CLI drives.
type App struct {
	Config *config.Config
	Logger *logger.Logger

	Local     *storage.LocalStorage
	Remote    *usecase.RemoteSync
	RemoteErr error
	Targets   []domain.Target

	Backup    *usecase.Backup
	Restore   *usecase.Restore
	Retention *usecase.Retention
	Registrar *usecase.Registrar
	Inventory *usecase.Inventory

	scheduler *scheduler.Scheduler
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	logFile := ""
	if !opts.Console && cfg.App.LogDir != "" {
		logFile = logger.DatedFile(cfg.App.LogDir, cfg.App.Name, time.Now())
	}
	log, err := logger.New(cfg.App.LogLevel, logFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	local, err := storage.NewLocal(cfg.Backup.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	targets, err := initializeTargets(cfg)
	if err != nil {
		return nil, err
	}

	remoteStore, remoteErr := initializeRemote(ctx, cfg)
	if remoteErr != nil {
		log.Errorf("Remote sync disabled: %v", remoteErr)
	}
	remote := usecase.NewRemoteSync(remoteStore, cfg.Remote.Prefix, log)

	comp := compressor.NewGzip()
	archiver := compressor.NewTarGz()
	locker := lockfile.Locker{Dir: local.Root()}

	retention := usecase.NewRetention(local, remote, log)
	retention.Locker = locker

	backup := usecase.NewBackup(targets, local, comp, archiver, remote, retention, log, usecase.BackupOptions{
		Compress:      cfg.Backup.Compress,
		ArchiveBatch:  cfg.Backup.ArchiveBatch,
		RetentionDays: cfg.Backup.RetentionDays,
	})
	backup.Locker = locker
	if cfg.Notify.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Notify.Telegram)
		if err != nil {
			log.Warnf("Telegram notifications disabled: %v", err)
		} else {
			backup.Notifier = tg
		}
	}

	restore := usecase.NewRestore(targets, local, comp, archiver, remote, log)
	restore.Locker = locker

	registrarCfg, err := registrarConfig(cfg, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	registrar := usecase.NewRegistrar(crontab.NewSystem(cfg.Backup.CommandTimeout), registrarCfg, log)

	inventory := usecase.NewInventory(local, remote)
	inventory.LockHolder = func() string { return lockHolder(local.Root()) }

	return &App{
		Config:    cfg,
		Logger:    log,
		Local:     local,
		Remote:    remote,
		RemoteErr: remoteErr,
		Targets:   targets,
		Backup:    backup,
		Restore:   restore,
		Retention: retention,
		Registrar: registrar,
		Inventory: inventory,
	}, nil
}

func initializeTargets(cfg *config.Config) ([]domain.Target, error) {
	rt := container.NewDocker(cfg.Backup.CommandTimeout)
	opts := database.Options{SnapshotTimeout: cfg.Backup.SnapshotTimeout}

	var targets []domain.Target
	for _, kind := range cfg.EnabledTargets() {
		t, err := database.New(kind, cfg.Targets.For(kind), rt, opts)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no enabled targets found", domain.ErrConfigurationInvalid)
	}
	return targets, nil
}

// initializeRemote returns a nil store when remote sync is off.
func initializeRemote(ctx context.Context, cfg *config.Config) (domain.RemoteStore, error) {
	if !cfg.Remote.Enabled {
		return nil, nil
	}
	switch cfg.Remote.Driver {
	case config.DriverCLI:
		return storage.NewS3CLI(cfg.Remote, cfg.Backup.CommandTimeout), nil
	default:
		s3, err := storage.NewS3(ctx, cfg.Remote)
		if err != nil {
			return nil, err
		}
		return s3, nil
	}
}

func registrarConfig(cfg *config.Config, configPath string) (usecase.RegistrarConfig, error) {
	binary := cfg.Schedule.Binary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return usecase.RegistrarConfig{}, fmt.Errorf("failed to resolve executable path: %w", err)
		}
		binary = exe
	}

	rc := usecase.RegistrarConfig{Binary: binary}
	paths := []struct {
		dst *string
		src string
	}{
		{&rc.WorkDir, cfg.Schedule.WorkDir},
		{&rc.LogDir, cfg.App.LogDir},
		{&rc.SnapshotDir, cfg.Schedule.SnapshotDir},
		{&rc.ConfigPath, configPath},
	}
	for _, p := range paths {
		if p.src == "" {
			continue
		}
		abs, err := filepath.Abs(p.src)
		if err != nil {
			return usecase.RegistrarConfig{}, fmt.Errorf("failed to resolve %s: %w", p.src, err)
		}
		*p.dst = abs
	}
	return rc, nil
}

func lockHolder(root string) string {
	holder, err := lockfile.Read(root)
	if errors.Is(err, fs.ErrNotExist) {
		return ""
	}
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("PID %d on %s (%s) since %s",
		holder.PID, holder.Hostname, holder.Command, holder.Started.Local().Format(time.DateTime))
}

// Run schedules the full backup and the retention sweep in-process and blocks until ctx is done.
func (a *App) Run(ctx context.Context) error {
	a.scheduler = scheduler.New(a.Logger)

	backupSpec := a.Config.Schedule.Backup
	if backupSpec == "" {
		return fmt.Errorf("%w: schedule.backup is required for the daemon", domain.ErrConfigurationInvalid)
	}
	if err := a.scheduler.AddJob(backupSpec, "backup", func(ctx context.Context) error {
		result, err := a.Backup.RunFull(ctx)
		if err != nil {
			return err
		}
		a.Logger.Infof("%s", result.Summary())
		return nil
	}); err != nil {
		return fmt.Errorf("failed to schedule backup: %w", err)
	}
	a.Logger.Infof("Scheduled full backup: %s", backupSpec)

	if spec := a.Config.Schedule.Cleanup; spec != "" {
		if err := a.scheduler.AddJob(spec, "cleanup", func(ctx context.Context) error {
			_, err := a.Retention.Sweep(ctx, usecase.ScopeBoth, a.Config.Backup.RetentionDays)
			return err
		}); err != nil {
			return fmt.Errorf("failed to schedule cleanup: %w", err)
		}
		a.Logger.Infof("Scheduled retention sweep: %s", spec)
	}

	a.scheduler.Start()
	a.Logger.Infof("Scheduler started with %d target(s), remote sync %s", len(a.Targets), enabledString(a.Remote.Enabled()))

	<-ctx.Done()
	return nil
}

func (a *App) Shutdown() {
	if a.scheduler != nil {
		a.Logger.Infof("Shutting down scheduler...")
		a.scheduler.Stop()
	}
	a.Logger.Close()
}

func enabledString(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}
