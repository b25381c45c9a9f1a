package usecase

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/semmidev/stackvault/internal/adapter/crontab"
	"github.com/semmidev/stackvault/internal/domain"
)

type Action string

const (
	ActionBackup Action = "backup"
	ActionSweep  Action = "sweep"
)

func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionBackup:
		return ActionBackup, nil
	case ActionSweep, "cleanup":
		return ActionSweep, nil
	}
	return "", fmt.Errorf("%w: unknown schedule action %q", domain.ErrConfigurationInvalid, s)
}

// TargetAll selects a full run.
const TargetAll = "all"

// CrontabStore reads and replaces the periodic-execution table.
type CrontabStore interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, content string) error
}

type ScheduleRequest struct {
	Expr       string
	Action     Action
	Target     string
	Scope      Scope
	Aggressive bool
}

type RegistrarConfig struct {
	Binary      string
	WorkDir     string
	ConfigPath  string
	LogDir      string
	SnapshotDir string
}

type Registrar struct {
	table  CrontabStore
	cfg    RegistrarConfig
	logger Logger

	now   func() time.Time
	newID func() string
}

func NewRegistrar(table CrontabStore, cfg RegistrarConfig, logger Logger) *Registrar {
	return &Registrar{
		table:  table,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// BackupOnly matches backup entries of any target.
func BackupOnly(d crontab.Descriptor) bool {
	return d.Action == string(ActionBackup)
}

func ByID(id string) func(crontab.Descriptor) bool {
	return func(d crontab.Descriptor) bool { return d.ID == id }
}

func ByAction(a Action) func(crontab.Descriptor) bool {
	return func(d crontab.Descriptor) bool { return d.Action == string(a) }
}

// ValidateExpr accepts standard 5-field cron expressions only.
func ValidateExpr(expr string) error {
	if n := len(strings.Fields(expr)); n != 5 {
		return fmt.Errorf("%w: cron expression %q must have 5 fields, has %d", domain.ErrConfigurationInvalid, expr, n)
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("%w: cron expression %q: %v", domain.ErrConfigurationInvalid, expr, err)
	}
	return nil
}

func (uc *Registrar) normalize(req ScheduleRequest) (ScheduleRequest, error) {
	if err := ValidateExpr(req.Expr); err != nil {
		return req, err
	}
	req.Expr = strings.Join(strings.Fields(req.Expr), " ")

	switch req.Action {
	case ActionBackup:
		if req.Target == "" {
			req.Target = TargetAll
		}
		if req.Target != TargetAll {
			kind, err := domain.ParseKind(req.Target)
			if err != nil {
				return req, err
			}
			req.Target = string(kind)
		}
		req.Scope = ""
		req.Aggressive = false
	case ActionSweep:
		req.Target = TargetAll
		if req.Scope == "" {
			req.Scope = ScopeBoth
		}
		if _, err := ParseScope(string(req.Scope)); err != nil {
			return req, err
		}
	default:
		return req, fmt.Errorf("%w: unknown schedule action %q", domain.ErrConfigurationInvalid, req.Action)
	}
	return req, nil
}

func (uc *Registrar) args(req ScheduleRequest) []string {
	var args []string
	if uc.cfg.ConfigPath != "" {
		args = append(args, "--config", shellQuote(uc.cfg.ConfigPath))
	}
	switch req.Action {
	case ActionBackup:
		if req.Target == TargetAll {
			args = append(args, "backup", "run", "--all")
		} else {
			args = append(args, "backup", "run", "--target", req.Target)
		}
	case ActionSweep:
		args = append(args, "retention", "sweep", "--scope", string(req.Scope))
		if req.Aggressive {
			args = append(args, "--aggressive")
		}
	}
	return args
}

// logPath names the entry's log after what it does and the day it was installed.
func (uc *Registrar) logPath(req ScheduleRequest, at time.Time) string {
	var name string
	switch {
	case req.Action == ActionBackup:
		name = "cron_backup_" + req.Target
	case req.Aggressive:
		name = "cron_aggressive_cleanup_" + string(req.Scope)
	default:
		name = "cron_cleanup_" + string(req.Scope)
	}
	return filepath.Join(uc.cfg.LogDir, name+"_"+at.Format("20060102")+".log")
}

// Install appends a managed entry. Existing lines are left untouched.
func (uc *Registrar) Install(ctx context.Context, req ScheduleRequest) (crontab.Entry, error) {
	req, err := uc.normalize(req)
	if err != nil {
		return crontab.Entry{}, err
	}

	now := uc.now()
	d := crontab.Descriptor{
		ID:         uc.newID(),
		Action:     string(req.Action),
		Target:     req.Target,
		Scope:      string(req.Scope),
		Aggressive: req.Aggressive,
		Created:    now.UTC().Truncate(time.Second),
		Log:        uc.logPath(req, now),
	}
	line := fmt.Sprintf("%s cd %s && %s %s >> %s 2>&1",
		req.Expr, shellQuote(uc.cfg.WorkDir), shellQuote(uc.cfg.Binary),
		strings.Join(uc.args(req), " "), shellQuote(d.Log))
	entry := crontab.Entry{Descriptor: d, Line: line}

	content, err := uc.table.Read(ctx)
	if err != nil {
		return crontab.Entry{}, err
	}
	table := crontab.Parse(content)
	table.Add(entry)
	if err := uc.table.Write(ctx, table.String()); err != nil {
		return crontab.Entry{}, err
	}

	uc.logger.Infof("Installed schedule %s: %s", d.ID, line)
	return entry, nil
}

func (uc *Registrar) List(ctx context.Context) ([]crontab.Entry, error) {
	content, err := uc.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	return crontab.Parse(content).Entries(), nil
}

// Remove deletes the managed entries matching pred and keeps every other line verbatim.
func (uc *Registrar) Remove(ctx context.Context, pred func(crontab.Descriptor) bool) ([]crontab.Entry, error) {
	content, err := uc.table.Read(ctx)
	if err != nil {
		return nil, err
	}
	table := crontab.Parse(content)
	removed := table.Remove(pred)
	if table.String() == crontab.Parse(content).String() {
		return nil, nil
	}
	if err := uc.table.Write(ctx, table.String()); err != nil {
		return nil, err
	}
	for _, e := range removed {
		uc.logger.Infof("Removed schedule %s (%s %s)", e.Descriptor.ID, e.Descriptor.Action, e.Descriptor.Target)
	}
	return removed, nil
}

// RemoveAll empties the whole table after saving a snapshot of it.
func (uc *Registrar) RemoveAll(ctx context.Context) (string, error) {
	snapshot, err := uc.Export(ctx, "")
	if err != nil {
		return "", fmt.Errorf("snapshot before removal: %w", err)
	}
	if err := uc.table.Write(ctx, ""); err != nil {
		return snapshot, err
	}
	uc.logger.Warnf("Removed all crontab entries, previous table saved to %s", snapshot)
	return snapshot, nil
}

// Export writes the table to path, or to a timestamped file in the snapshot
// directory when path is empty, and returns the path written.
func (uc *Registrar) Export(ctx context.Context, path string) (string, error) {
	content, err := uc.table.Read(ctx)
	if err != nil {
		return "", err
	}
	if path == "" {
		path = filepath.Join(uc.cfg.SnapshotDir, "crontab_"+uc.now().Format(domain.TimestampLayout)+".txt")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	uc.logger.Infof("Exported crontab to %s", path)
	return path, nil
}

// Import replaces the table with the snapshot at path after validating every line.
func (uc *Registrar) Import(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for n := 1; scanner.Scan(); n++ {
		if err := crontab.ValidateLine(scanner.Text()); err != nil {
			return fmt.Errorf("%w: %s line %d: %v", domain.ErrConfigurationInvalid, path, n, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	if err := uc.table.Write(ctx, crontab.Parse(string(data)).String()); err != nil {
		return err
	}
	uc.logger.Infof("Imported crontab from %s", path)
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
