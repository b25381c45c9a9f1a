package crontab

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semmidev/stackvault/internal/domain"
)

func sampleDescriptor() Descriptor {
	return Descriptor{
		ID:         "6f1c2a9e-0000-4000-8000-000000000001",
		Action:     "backup",
		Target:     "all",
		Scope:      "both",
		Aggressive: false,
		Created:    time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC),
		Log:        "/var/log/stackvault/backup.log",
	}
}

func TestDescriptorFormat(t *testing.T) {
	d := sampleDescriptor()
	assert.Equal(t,
		"# stackvault id=6f1c2a9e-0000-4000-8000-000000000001 action=backup target=all scope=both aggressive=false created=2024-01-01T02:00:00Z log=/var/log/stackvault/backup.log",
		d.String())

	parsed, ok := ParseDescriptor(d.String())
	require.True(t, ok)
	assert.Equal(t, d, parsed)
}

func TestDescriptorQuotedValues(t *testing.T) {
	d := sampleDescriptor()
	d.Log = `/srv/my backups/"x".log`

	parsed, ok := ParseDescriptor(d.String())
	require.True(t, ok)
	assert.Equal(t, d.Log, parsed.Log)
	assert.Equal(t, d.Scope, parsed.Scope)
}

func TestParseDescriptorRejects(t *testing.T) {
	for _, line := range []string{
		"",
		"# plain comment",
		"0 2 * * * /usr/bin/true",
		"# stackvault",
		"# stackvault action=backup",
		`# stackvault id="unterminated action=backup`,
		"# stackvaultish id=x action=backup",
	} {
		_, ok := ParseDescriptor(line)
		assert.False(t, ok, line)
	}
}

func TestSplitSchedule(t *testing.T) {
	tests := []struct {
		line    string
		expr    string
		command string
		wantErr bool
	}{
		{line: "0 2 * * * /usr/bin/stackvault backup run --all", expr: "0 2 * * *", command: "/usr/bin/stackvault backup run --all"},
		{line: "@daily /usr/bin/true", expr: "@daily", command: "/usr/bin/true"},
		{line: "*/15 * * * 1-5   echo   hi", expr: "*/15 * * * 1-5", command: "echo hi"},
		{line: "0 2 * * *", wantErr: true},
		{line: "61 2 * * * echo", wantErr: true},
		{line: "0 2 * * echo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			expr, command, err := SplitSchedule(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expr, expr)
			assert.Equal(t, tt.command, command)
		})
	}
}

func TestValidateLine(t *testing.T) {
	for _, line := range []string{"", "   ", "# comment", "MAILTO=ops@example.com", "SHELL=/bin/bash", "0 3 * * * /bin/cleanup"} {
		assert.NoError(t, ValidateLine(line), line)
	}
	for _, line := range []string{"not a cron line", "99 * * * * cmd"} {
		assert.Error(t, ValidateLine(line), line)
	}
}

const existing = `MAILTO=ops@example.com
# nightly certbot
0 4 * * * certbot renew  --quiet
`

func TestTablePreservesForeignLines(t *testing.T) {
	table := Parse(existing)
	assert.Empty(t, table.Entries())
	assert.Equal(t, existing, table.String())

	backup := Entry{Descriptor: sampleDescriptor(), Line: "0 2 * * * cd '/srv' && '/usr/bin/stackvault' backup run --all >> '/var/log/stackvault/backup.log' 2>&1"}
	sweep := sampleDescriptor()
	sweep.ID = "6f1c2a9e-0000-4000-8000-000000000002"
	sweep.Action = "sweep"
	sweep.Log = "/var/log/stackvault/sweep.log"
	table.Add(backup)
	table.Add(Entry{Descriptor: sweep, Line: "0 3 * * * /usr/bin/stackvault retention sweep >> /var/log/stackvault/sweep.log 2>&1"})

	entries := table.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, backup, entries[0])

	removed := table.Remove(func(d Descriptor) bool { return d.Action == "backup" })
	require.Len(t, removed, 1)
	assert.Equal(t, backup.Descriptor.ID, removed[0].Descriptor.ID)

	remaining := Parse(table.String())
	require.Len(t, remaining.Entries(), 1)
	assert.Equal(t, "sweep", remaining.Entries()[0].Descriptor.Action)

	remaining.Remove(func(Descriptor) bool { return true })
	assert.Equal(t, existing, remaining.String())
}

func TestTableOrphanDescriptorKeepsNextLine(t *testing.T) {
	d := sampleDescriptor()
	content := d.String() + "\n0 5 * * * /usr/bin/unrelated-job\n"
	table := Parse(content)

	assert.Empty(t, table.Entries())

	removed := table.Remove(func(d Descriptor) bool { return d.Action == "backup" })
	assert.Empty(t, removed)
	assert.Equal(t, "0 5 * * * /usr/bin/unrelated-job\n", table.String())

	other := Parse(content)
	assert.Empty(t, other.Remove(func(d Descriptor) bool { return d.Action == "sweep" }))
	assert.Equal(t, content, other.String())
}

func TestDescriptorOwns(t *testing.T) {
	d := sampleDescriptor()
	assert.True(t, d.Owns("0 2 * * * stackvault backup run --all >> '/var/log/stackvault/backup.log' 2>&1"))
	assert.False(t, d.Owns("0 2 * * * /usr/bin/unrelated-job"))
	assert.False(t, d.Owns("# /var/log/stackvault/backup.log"))

	d.Log = "/var/log/it's.log"
	assert.True(t, d.Owns(`0 2 * * * stackvault backup run --all >> '/var/log/it'\''s.log' 2>&1`))
}

func TestTableEmpty(t *testing.T) {
	assert.Equal(t, "", Parse("").String())
	assert.Equal(t, "", Parse("\n").String())
}

const fakeCrontab = `#!/bin/sh
store="$(dirname "$0")/table"
case "$1" in
-l)
	if [ ! -f "$store" ]; then
		echo "no crontab for $(id -un)" >&2
		exit 1
	fi
	cat "$store"
	;;
-)
	cat > "$store"
	;;
*)
	echo "usage" >&2
	exit 2
	;;
esac
`

func TestSystem(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "crontab")
	require.NoError(t, os.WriteFile(bin, []byte(fakeCrontab), 0755))

	s := NewSystem(5 * time.Second)
	s.Binary = bin
	ctx := context.Background()

	content, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "", content)

	require.NoError(t, s.Write(ctx, existing))
	content, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, existing, content)

	s.Binary = filepath.Join(dir, "missing")
	_, err = s.Read(ctx)
	assert.True(t, errors.Is(err, domain.ErrDependencyMissing))
}
