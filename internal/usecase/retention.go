package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

// AggressiveDays is the fixed retention of aggressive sweeps.
const AggressiveDays = 7

type Scope string

const (
	ScopeLocal  Scope = "local"
	ScopeRemote Scope = "remote"
	ScopeBoth   Scope = "both"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeLocal:
		return ScopeLocal, nil
	case ScopeRemote:
		return ScopeRemote, nil
	case ScopeBoth, "":
		return ScopeBoth, nil
	}
	return "", fmt.Errorf("%w: unknown retention scope %q", domain.ErrConfigurationInvalid, s)
}

type SweepResult struct {
	Days          int
	DeletedLocal  []string
	DeletedRemote []string
	Remaining     int
}

type Retention struct {
	local  LocalStore
	remote *RemoteSync
	logger Logger
	now    func() time.Time

	// Optional. Held by Sweep; a sweep inside a full run uses the run's lock.
	Locker Locker
}

func NewRetention(local LocalStore, remote *RemoteSync, logger Logger) *Retention {
	return &Retention{local: local, remote: remote, logger: logger, now: time.Now}
}

// Sweep deletes local partitions and batch archives whose mtime is more than days
// old and, for remote scopes, date prefixes dated before today minus days.
func (uc *Retention) Sweep(ctx context.Context, scope Scope, days int) (*SweepResult, error) {
	release, err := acquire(uc.Locker, fmt.Sprintf("retention sweep --scope %s", scope))
	if err != nil {
		return nil, err
	}
	defer release()

	return uc.sweep(ctx, scope, days)
}

func (uc *Retention) sweep(ctx context.Context, scope Scope, days int) (*SweepResult, error) {
	if days < 0 {
		return nil, fmt.Errorf("%w: retention days must be >= 0, got %d", domain.ErrConfigurationInvalid, days)
	}
	if scope == ScopeRemote && !uc.remote.Enabled() {
		return nil, fmt.Errorf("%w: remote sweep requested but remote sync is disabled", domain.ErrConfigurationInvalid)
	}

	uc.logger.Infof("Starting %s cleanup, retention: %d days", scope, days)
	result := &SweepResult{Days: days}
	now := uc.now()

	if scope == ScopeLocal || scope == ScopeBoth {
		deleted, err := uc.sweepLocal(now.Add(-time.Duration(days) * 24 * time.Hour))
		result.DeletedLocal = deleted
		if err != nil {
			return result, err
		}
	}

	if scope == ScopeRemote || scope == ScopeBoth {
		if uc.remote.Enabled() {
			deleted, err := uc.sweepRemote(ctx, now.AddDate(0, 0, -days))
			result.DeletedRemote = deleted
			if err != nil {
				return result, err
			}
		} else {
			uc.logger.Infof("Remote sync disabled, skipping remote cleanup")
		}
	}

	remaining, err := uc.local.RemainingFiles()
	if err != nil {
		return result, err
	}
	result.Remaining = remaining

	uc.logger.Infof("Cleanup completed: %d local, %d remote deleted, %d files remaining",
		len(result.DeletedLocal), len(result.DeletedRemote), result.Remaining)
	return result, nil
}

func (uc *Retention) sweepLocal(cutoff time.Time) ([]string, error) {
	partitions, err := uc.local.Partitions()
	if err != nil {
		return nil, err
	}
	archives, err := uc.local.Archives()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, entry := range append(partitions, archives...) {
		if !entry.ModTime.Before(cutoff) {
			continue
		}
		uc.logger.Infof("Deleting old backup: %s", entry.Path)
		if err := uc.local.Delete(entry.Path); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", entry.Path, err)
			return deleted, err
		}
		deleted = append(deleted, entry.Path)
	}
	return deleted, nil
}

func (uc *Retention) sweepRemote(ctx context.Context, cutoff time.Time) ([]string, error) {
	prefixes, err := uc.remote.Prefixes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list remote prefixes: %w", err)
	}

	var deleted []string
	for _, prefix := range ExpiredPrefixes(prefixes, cutoff) {
		uc.logger.Infof("Deleting old remote prefix: %s/%s", uc.remote.Prefix(), prefix)
		if err := uc.remote.DeletePrefix(ctx, prefix); err != nil {
			uc.logger.Errorf("Failed to delete remote prefix %s: %v", prefix, err)
			return deleted, err
		}
		deleted = append(deleted, prefix)
	}
	return deleted, nil
}

// ExpiredPrefixes returns the YYYY-MM-DD prefixes dated strictly before cutoff's
// calendar day, in order. Prefixes that are not dates are never returned.
func ExpiredPrefixes(prefixes []string, cutoff time.Time) []string {
	cutoffDay, _ := time.Parse(domain.DateLayout, cutoff.Format(domain.DateLayout))

	var expired []string
	for _, p := range prefixes {
		day, err := time.Parse(domain.DateLayout, p)
		if err != nil {
			continue
		}
		if day.Before(cutoffDay) {
			expired = append(expired, p)
		}
	}
	sort.Strings(expired)
	return expired
}
