package domain

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

const (
	TimestampLayout = "20060102_150405"
	DateLayout      = "2006-01-02"

	CompressedSuffix = ".gz"
	BatchPrefix      = "backup_"
	BatchSuffix      = ".tar.gz"
)

type TargetKind string

const (
	KindMySQL      TargetKind = "mysql"
	KindPostgres   TargetKind = "postgres"
	KindRedis      TargetKind = "redis"
	KindClickHouse TargetKind = "clickhouse"
)

// Kinds lists every supported kind in the order a full run visits them.
var Kinds = []TargetKind{KindMySQL, KindPostgres, KindRedis, KindClickHouse}

func ParseKind(s string) (TargetKind, error) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown target kind %q", ErrConfigurationInvalid, s)
}

// Extension is the raw artifact extension produced by the kind's adapter.
func (k TargetKind) Extension() string {
	if k == KindRedis {
		return ".rdb"
	}
	return ".sql"
}

type Artifact struct {
	Kind       TargetKind
	Timestamp  time.Time
	Path       string
	Compressed bool
}

func (a Artifact) Filename() string {
	return ArtifactFilename(a.Kind, a.Timestamp, a.Compressed)
}

// Size is read from disk on every call; it is never cached.
func (a Artifact) Size() (int64, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func ArtifactFilename(kind TargetKind, ts time.Time, compressed bool) string {
	name := fmt.Sprintf("%s_backup_%s%s", kind, ts.Format(TimestampLayout), kind.Extension())
	if compressed {
		name += CompressedSuffix
	}
	return name
}

var artifactPattern = regexp.MustCompile(`^(mysql|postgres|redis|clickhouse)_backup_(\d{8}_\d{6})\.(sql|rdb)(\.gz)?$`)

// ParseArtifactName recovers kind, timestamp and compression from a filename alone.
func ParseArtifactName(name string) (TargetKind, time.Time, bool, error) {
	m := artifactPattern.FindStringSubmatch(name)
	if m == nil {
		return "", time.Time{}, false, fmt.Errorf("not an artifact filename: %s", name)
	}
	ts, err := time.ParseInLocation(TimestampLayout, m[2], time.Local)
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("parse timestamp of %s: %w", name, err)
	}
	return TargetKind(m[1]), ts, m[4] != "", nil
}

func BatchArchiveName(ts time.Time) string {
	return BatchPrefix + ts.Format(TimestampLayout) + BatchSuffix
}

var batchPattern = regexp.MustCompile(`^backup_(\d{8}_\d{6})\.tar\.gz$`)

func ParseBatchArchiveName(name string) (time.Time, error) {
	m := batchPattern.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, fmt.Errorf("not a batch archive filename: %s", name)
	}
	return time.ParseInLocation(TimestampLayout, m[1], time.Local)
}

func IsBatchArchive(name string) bool {
	return batchPattern.MatchString(name)
}

// DateFromFilename returns the YYYY-MM-DD partition a backup file belongs to.
func DateFromFilename(name string) (string, error) {
	if _, ts, _, err := ParseArtifactName(name); err == nil {
		return ts.Format(DateLayout), nil
	}
	if ts, err := ParseBatchArchiveName(name); err == nil {
		return ts.Format(DateLayout), nil
	}
	return "", fmt.Errorf("%w: no embedded timestamp in %s", ErrNotFound, name)
}

// StoredFile describes a file found in the local store.
type StoredFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// RemoteObject describes an object in the remote store.
type RemoteObject struct {
	Key          string
	Size         int64
	LastModified time.Time
}
