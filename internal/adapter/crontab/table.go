// Package crontab reads and writes the user crontab and models the entries
// stackvault manages inside it.
package crontab

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Marker starts every descriptor comment.
const Marker = "# stackvault"

// Descriptor is the structured metadata stored as a comment above each managed cron line.
type Descriptor struct {
	ID         string
	Action     string
	Target     string
	Scope      string
	Aggressive bool
	Created    time.Time
	Log        string
}

func quoteValue(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\"\\") {
		return strconv.Quote(v)
	}
	return v
}

func (d Descriptor) String() string {
	fields := []string{
		Marker,
		"id=" + quoteValue(d.ID),
		"action=" + quoteValue(d.Action),
		"target=" + quoteValue(d.Target),
		"scope=" + quoteValue(d.Scope),
		"aggressive=" + strconv.FormatBool(d.Aggressive),
		"created=" + d.Created.Format(time.RFC3339),
		"log=" + quoteValue(d.Log),
	}
	return strings.Join(fields, " ")
}

// ParseDescriptor decodes a descriptor comment. ok is false for any other line.
func ParseDescriptor(line string) (Descriptor, bool) {
	rest, found := strings.CutPrefix(strings.TrimSpace(line), Marker+" ")
	if !found {
		return Descriptor{}, false
	}

	values := map[string]string{}
	for rest = strings.TrimSpace(rest); rest != ""; rest = strings.TrimSpace(rest) {
		key, after, ok := strings.Cut(rest, "=")
		if !ok || strings.ContainsAny(key, " \t") {
			return Descriptor{}, false
		}
		var value string
		if strings.HasPrefix(after, `"`) {
			quoted, err := strconv.QuotedPrefix(after)
			if err != nil {
				return Descriptor{}, false
			}
			value, _ = strconv.Unquote(quoted)
			rest = after[len(quoted):]
		} else {
			value, rest, _ = strings.Cut(after, " ")
		}
		values[key] = value
	}

	if values["id"] == "" || values["action"] == "" {
		return Descriptor{}, false
	}
	d := Descriptor{
		ID:     values["id"],
		Action: values["action"],
		Target: values["target"],
		Scope:  values["scope"],
		Log:    values["log"],
	}
	d.Aggressive, _ = strconv.ParseBool(values["aggressive"])
	d.Created, _ = time.Parse(time.RFC3339, values["created"])
	return d, true
}

// Entry is a managed job: its descriptor and the cron line that follows it.
type Entry struct {
	Descriptor Descriptor
	Line       string
}

// SplitSchedule separates the schedule from the command of a cron line and
// validates the schedule.
func SplitSchedule(line string) (string, string, error) {
	fields := strings.Fields(line)
	n := 5
	if len(fields) > 0 && strings.HasPrefix(fields[0], "@") {
		n = 1
	}
	if len(fields) <= n {
		return "", "", fmt.Errorf("cron line has no command: %q", line)
	}
	expr := strings.Join(fields[:n], " ")
	if _, err := cron.ParseStandard(expr); err != nil {
		return "", "", fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return expr, strings.Join(fields[n:], " "), nil
}

// ValidateLine accepts blank lines, comments, environment assignments and
// cron lines with a valid schedule.
func ValidateLine(line string) error {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil
	}
	if name, _, ok := strings.Cut(trimmed, "="); ok && !strings.ContainsAny(name, " \t*@") {
		return nil
	}
	_, _, err := SplitSchedule(trimmed)
	return err
}

// Table is a parsed crontab. Lines that are not managed entries are kept verbatim.
type Table struct {
	lines []string
}

func Parse(content string) *Table {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return &Table{}
	}
	return &Table{lines: strings.Split(content, "\n")}
}

// Owns reports whether line is the cron line written for d: a valid schedule
// whose command appends to the descriptor's log.
func (d Descriptor) Owns(line string) bool {
	if d.Log == "" {
		return false
	}
	if _, _, err := SplitSchedule(line); err != nil {
		return false
	}
	return strings.Contains(line, d.Log) || strings.Contains(line, strings.ReplaceAll(d.Log, "'", `'\''`))
}

// managed returns the descriptor at line i when the next line belongs to it.
func (t *Table) managed(i int) (Descriptor, bool) {
	d, ok := ParseDescriptor(t.lines[i])
	if !ok || i+1 >= len(t.lines) || !d.Owns(t.lines[i+1]) {
		return Descriptor{}, false
	}
	return d, true
}

// Entries returns every managed entry in file order. A descriptor whose cron
// line is missing is not an entry.
func (t *Table) Entries() []Entry {
	var entries []Entry
	for i := 0; i < len(t.lines); i++ {
		d, ok := t.managed(i)
		if !ok {
			continue
		}
		entries = append(entries, Entry{Descriptor: d, Line: t.lines[i+1]})
		i++
	}
	return entries
}

func (t *Table) Add(e Entry) {
	t.lines = append(t.lines, e.Descriptor.String(), e.Line)
}

// Remove drops the managed entries matching pred and returns them. A matching
// descriptor left without its cron line is dropped on its own; the line after
// it is kept.
func (t *Table) Remove(pred func(Descriptor) bool) []Entry {
	var removed []Entry
	kept := make([]string, 0, len(t.lines))
	for i := 0; i < len(t.lines); i++ {
		if d, ok := t.managed(i); ok && pred(d) {
			removed = append(removed, Entry{Descriptor: d, Line: t.lines[i+1]})
			i++
			continue
		}
		if d, ok := ParseDescriptor(t.lines[i]); ok && pred(d) {
			continue
		}
		kept = append(kept, t.lines[i])
	}
	t.lines = kept
	return removed
}

func (t *Table) String() string {
	if len(t.lines) == 0 {
		return ""
	}
	return strings.Join(t.lines, "\n") + "\n"
}
