package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/semmidev/stackvault/internal/app"
	"github.com/semmidev/stackvault/internal/config"
)

var version = "dev"

type Command struct {
	Config string `help:"config file path" short:"c" type:"path"`

	Backup struct {
		Run struct {
			All    bool   `help:"back up every enabled target" xor:"selection"`
			Target string `help:"back up a single target (mysql, postgres, redis, clickhouse)" short:"t" xor:"selection"`
		} `cmd:"" help:"Run a backup now."`
		List struct {
			Target string `help:"only list files whose name contains this" short:"t"`
		} `cmd:"" help:"List local backup files, newest first."`
		Status struct{} `cmd:"" help:"Show the state of the backup store."`
	} `cmd:"" help:"Create and inspect backups."`

	Restore struct {
		Target string `help:"target to restore into" short:"t" required:""`
		File   string `help:"artifact path, filename or batch archive" short:"f" required:""`
		Yes    bool   `help:"do not ask for confirmation" short:"y"`
	} `cmd:"" help:"Restore a target from a backup."`

	Retention struct {
		Sweep struct {
			Scope      string `help:"local, remote or both" default:"both" enum:"local,remote,both"`
			Aggressive bool   `help:"keep only the last 7 days"`
			Days       int    `help:"retention window in days (defaults to backup.retention_days)" default:"-1"`
		} `cmd:"" help:"Delete backups older than the retention window."`
	} `cmd:"" help:"Enforce retention."`

	Remote struct {
		List   struct{} `cmd:"" help:"List objects in the remote store."`
		Verify struct{} `cmd:"" help:"Check the remote credentials."`
	} `cmd:"" help:"Inspect the remote store."`

	Schedule struct {
		Install struct {
			Cron       string `help:"5-field cron expression" required:""`
			Action     string `help:"backup or sweep" default:"backup" enum:"backup,sweep,cleanup"`
			Target     string `help:"target for backup entries (default all)"`
			Scope      string `help:"scope for sweep entries" default:"both" enum:"local,remote,both"`
			Aggressive bool   `help:"sweep entries keep only the last 7 days"`
		} `cmd:"" help:"Add a crontab entry."`
		List   struct{} `cmd:"" help:"List managed crontab entries."`
		Remove struct {
			All        bool   `help:"empty the whole crontab after saving a snapshot" xor:"which"`
			ID         string `help:"remove the entry with this id" name:"id" xor:"which"`
			BackupOnly bool   `help:"remove backup entries only" xor:"which"`
			Action     string `help:"remove entries with this action" xor:"which"`
		} `cmd:"" help:"Remove crontab entries."`
		Export struct {
			File string `help:"snapshot path (default: timestamped file in schedule.snapshot_dir)" short:"f" type:"path"`
		} `cmd:"" help:"Save the crontab to a file."`
		Import struct {
			File string `help:"snapshot path" short:"f" type:"existingfile" required:""`
		} `cmd:"" help:"Replace the crontab with a snapshot."`
	} `cmd:"" help:"Manage crontab entries."`

	Daemon  struct{} `cmd:"" help:"Run backups and sweeps on the configured schedule in-process."`
	Version struct{} `cmd:"" help:"Print the version."`
}

func main() {
	args := Command{}
	cli := kong.Parse(&args,
		kong.Name("stackvault"),
		kong.Description("Backup and restore for the data services of a Docker Compose stack."),
		kong.UsageOnError(),
	)

	if cli.Command() == "version" {
		fmt.Println("stackvault", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(args.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: load config: %v\n", err)
		cli.Exit(1)
	}

	application, err := app.New(ctx, cfg, app.Options{
		ConfigPath: args.Config,
		Console:    readOnly(cli.Command()),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: initialize app: %v\n", err)
		cli.Exit(1)
	}
	defer application.Shutdown()

	r := &runner{app: application, args: &args, out: os.Stdout, in: os.Stdin}
	if err := r.dispatch(ctx, cli.Command()); err != nil {
		application.Logger.Errorf("%s: %v", cli.Command(), err)
		application.Shutdown()
		cancel()
		cli.Exit(1)
	}
}

// readOnly commands log to the console only.
func readOnly(command string) bool {
	switch command {
	case "backup list", "backup status", "remote list", "remote verify", "schedule list":
		return true
	}
	return false
}
