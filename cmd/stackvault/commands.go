package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/docker/go-units"

	"github.com/semmidev/stackvault/internal/app"
	"github.com/semmidev/stackvault/internal/domain"
	"github.com/semmidev/stackvault/internal/usecase"
)

type runner struct {
	app  *app.App
	args *Command
	out  io.Writer
	in   io.Reader
}

func (r *runner) dispatch(ctx context.Context, command string) error {
	switch command {
	case "backup run":
		return r.backupRun(ctx)
	case "backup list":
		return r.backupList()
	case "backup status":
		return r.backupStatus()
	case "restore":
		return r.restore(ctx)
	case "retention sweep":
		return r.sweep(ctx)
	case "remote list":
		return r.remoteList(ctx)
	case "remote verify":
		return r.remoteVerify(ctx)
	case "schedule install":
		return r.scheduleInstall(ctx)
	case "schedule list":
		return r.scheduleList(ctx)
	case "schedule remove":
		return r.scheduleRemove(ctx)
	case "schedule export":
		path, err := r.app.Registrar.Export(ctx, r.args.Schedule.Export.File)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Crontab saved to %s\n", path)
		return nil
	case "schedule import":
		return r.app.Registrar.Import(ctx, r.args.Schedule.Import.File)
	case "daemon":
		return r.app.Run(ctx)
	}
	return fmt.Errorf("unknown command %q", command)
}

func (r *runner) backupRun(ctx context.Context) error {
	if r.args.Backup.Run.Target == "" {
		result, err := r.app.Backup.RunFull(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(r.out, result.Summary())
		return nil
	}

	kind, err := domain.ParseKind(r.args.Backup.Run.Target)
	if err != nil {
		return err
	}
	result, err := r.app.Backup.RunSingle(ctx, kind)
	if err != nil {
		return err
	}
	switch result.Status {
	case usecase.StatusSucceeded:
		fmt.Fprintf(r.out, "%s: %s (%s) in %s\n", kind, result.Artifact.Path,
			units.HumanSize(float64(result.Size)), result.Duration.Round(time.Millisecond))
		if result.UploadErr != nil {
			fmt.Fprintf(r.out, "remote upload failed: %v\n", result.UploadErr)
		}
		return nil
	case usecase.StatusSkipped:
		fmt.Fprintf(r.out, "%s: skipped: %v\n", kind, result.Err)
		return nil
	}
	return fmt.Errorf("%s backup failed: %w", kind, result.Err)
}

func (r *runner) backupList() error {
	files, err := r.app.Inventory.List(r.args.Backup.List.Target)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(r.out, "No backups found.")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED\tPATH")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, units.HumanSize(float64(f.Size)),
			f.ModTime.Format(time.DateTime), f.Path)
	}
	return w.Flush()
}

func (r *runner) backupStatus() error {
	st, err := r.app.Inventory.Status()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Root:\t%s\n", st.Root)
	fmt.Fprintf(w, "Partitions:\t%d\n", st.Partitions)
	fmt.Fprintf(w, "Batch archives:\t%d\n", st.Archives)
	fmt.Fprintf(w, "Files:\t%d (%s)\n", st.Files, units.HumanSize(float64(st.TotalSize)))
	for _, kind := range domain.Kinds {
		latest := "none"
		if f, ok := st.Latest[kind]; ok {
			latest = fmt.Sprintf("%s (%s ago)", f.Name, units.HumanDuration(time.Since(f.ModTime)))
		}
		fmt.Fprintf(w, "Latest %s:\t%s\n", kind, latest)
	}
	lock := "free"
	if st.LockHolder != "" {
		lock = st.LockHolder
	}
	fmt.Fprintf(w, "Lock:\t%s\n", lock)
	remote := "disabled"
	if st.RemoteEnabled {
		remote = fmt.Sprintf("enabled (%s, prefix %s)", r.app.Config.Remote.Bucket, st.RemotePrefix)
	} else if r.app.RemoteErr != nil {
		remote = fmt.Sprintf("unavailable: %v", r.app.RemoteErr)
	}
	fmt.Fprintf(w, "Remote:\t%s\n", remote)
	return w.Flush()
}

func (r *runner) restore(ctx context.Context) error {
	kind, err := domain.ParseKind(r.args.Restore.Target)
	if err != nil {
		return err
	}

	var confirm usecase.Confirmer = promptConfirmer{in: bufio.NewReader(r.in), out: r.out}
	if r.args.Restore.Yes {
		confirm = usecase.ConfirmFunc(func(string) (bool, error) { return true, nil })
	}

	if err := r.app.Restore.Execute(ctx, kind, r.args.Restore.File, confirm); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "%s restored from %s\n", kind, r.args.Restore.File)
	return nil
}

// promptConfirmer accepts only an explicit "yes".
type promptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func (p promptConfirmer) Confirm(prompt string) (bool, error) {
	fmt.Fprintf(p.out, "%s Type 'yes' to continue: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "yes"), nil
}

func (r *runner) sweep(ctx context.Context) error {
	opts := r.args.Retention.Sweep
	scope, err := usecase.ParseScope(opts.Scope)
	if err != nil {
		return err
	}

	days := r.app.Config.Backup.RetentionDays
	switch {
	case opts.Aggressive:
		days = usecase.AggressiveDays
	case opts.Days >= 0:
		days = opts.Days
	}

	result, err := r.app.Retention.Sweep(ctx, scope, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Sweep (%d days): %d local, %d remote deleted, %d files remaining\n",
		result.Days, len(result.DeletedLocal), len(result.DeletedRemote), result.Remaining)
	for _, p := range result.DeletedLocal {
		fmt.Fprintf(r.out, "  local  %s\n", p)
	}
	for _, p := range result.DeletedRemote {
		fmt.Fprintf(r.out, "  remote %s\n", p)
	}
	return nil
}

func (r *runner) remoteReady() error {
	if r.app.RemoteErr != nil {
		return r.app.RemoteErr
	}
	if !r.app.Remote.Enabled() {
		return fmt.Errorf("%w: remote sync is disabled (set remote.enabled)", domain.ErrConfigurationInvalid)
	}
	return nil
}

func (r *runner) remoteList(ctx context.Context) error {
	if err := r.remoteReady(); err != nil {
		return err
	}
	objects, err := r.app.Remote.Objects(ctx)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Fprintln(r.out, "No remote backups found.")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
	var total int64
	for _, o := range objects {
		total += o.Size
		fmt.Fprintf(w, "%s\t%s\t%s\n", o.Key, units.HumanSize(float64(o.Size)), o.LastModified.Local().Format(time.DateTime))
	}
	fmt.Fprintf(w, "\t%s total\t\n", units.HumanSize(float64(total)))
	return w.Flush()
}

func (r *runner) remoteVerify(ctx context.Context) error {
	if err := r.remoteReady(); err != nil {
		return err
	}
	identity, err := r.app.Remote.Verify(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Credentials OK: %s\n", identity)
	return nil
}

func (r *runner) scheduleInstall(ctx context.Context) error {
	opts := r.args.Schedule.Install
	action, err := usecase.ParseAction(opts.Action)
	if err != nil {
		return err
	}
	scope, err := usecase.ParseScope(opts.Scope)
	if err != nil {
		return err
	}

	entry, err := r.app.Registrar.Install(ctx, usecase.ScheduleRequest{
		Expr:       opts.Cron,
		Action:     action,
		Target:     opts.Target,
		Scope:      scope,
		Aggressive: opts.Aggressive,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Installed %s\n%s\n", entry.Descriptor.ID, entry.Line)
	return nil
}

func (r *runner) scheduleList(ctx context.Context) error {
	entries, err := r.app.Registrar.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "No stackvault entries installed.")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tACTION\tTARGET\tSCOPE\tAGGRESSIVE\tCREATED\tLINE")
	for _, e := range entries {
		d := e.Descriptor
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n", d.ID, d.Action, d.Target, dash(d.Scope),
			d.Aggressive, d.Created.Local().Format(time.DateTime), e.Line)
	}
	return w.Flush()
}

func (r *runner) scheduleRemove(ctx context.Context) error {
	opts := r.args.Schedule.Remove
	if opts.All {
		snapshot, err := r.app.Registrar.RemoveAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Crontab emptied; previous table saved to %s\n", snapshot)
		return nil
	}

	var removed int
	switch {
	case opts.ID != "":
		entries, err := r.app.Registrar.Remove(ctx, usecase.ByID(opts.ID))
		if err != nil {
			return err
		}
		removed = len(entries)
	case opts.BackupOnly:
		entries, err := r.app.Registrar.Remove(ctx, usecase.BackupOnly)
		if err != nil {
			return err
		}
		removed = len(entries)
	case opts.Action != "":
		action, err := usecase.ParseAction(opts.Action)
		if err != nil {
			return err
		}
		entries, err := r.app.Registrar.Remove(ctx, usecase.ByAction(action))
		if err != nil {
			return err
		}
		removed = len(entries)
	default:
		return fmt.Errorf("%w: one of --all, --id, --backup-only or --action is required", domain.ErrConfigurationInvalid)
	}
	fmt.Fprintf(r.out, "Removed %d entr%s\n", removed, plural(removed, "y", "ies"))
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
