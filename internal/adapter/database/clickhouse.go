package database

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

const clickhouseHeader = `-- stackvault clickhouse logical export
-- Tables are exported one after another without a shared snapshot;
-- rows written during the export may be missing or partially present.
`

var clickhouseSystemDatabases = []string{"system", "INFORMATION_SCHEMA", "information_schema"}

type ClickHouseDatabase struct {
	base
}

func NewClickHouse(cfg config.TargetConfig, rt domain.ContainerRuntime) *ClickHouseDatabase {
	return &ClickHouseDatabase{base{kind: domain.KindClickHouse, config: cfg, runtime: rt}}
}

type clickhouseTable struct {
	name   string
	engine string
}

func (t clickhouseTable) isView() bool {
	return strings.HasSuffix(t.engine, "View")
}

// Backup writes schema and data of every non-system database as one SQL script.
func (c *ClickHouseDatabase) Backup(ctx context.Context, outputPath string) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := c.export(ctx, w); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return f.Close()
}

func (c *ClickHouseDatabase) export(ctx context.Context, w *bufio.Writer) error {
	w.WriteString(clickhouseHeader)

	databases, err := c.databases(ctx)
	if err != nil {
		return err
	}

	for _, db := range databases {
		fmt.Fprintf(w, "\nCREATE DATABASE IF NOT EXISTS %s;\n", quoteIdent(db))

		tables, err := c.tables(ctx, db)
		if err != nil {
			return err
		}

		for _, t := range tables {
			qualified := quoteIdent(db) + "." + quoteIdent(t.name)

			ddl, err := c.queryString(ctx, "SHOW CREATE TABLE "+qualified+" FORMAT TSVRaw")
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "\n%s;\n", ifNotExists(ddl))

			if t.isView() {
				continue
			}

			count, err := c.queryString(ctx, "SELECT count() FROM "+qualified+" FORMAT TSVRaw")
			if err != nil {
				return err
			}
			if n, _ := strconv.ParseInt(count, 10, 64); n == 0 {
				continue
			}

			fmt.Fprintf(w, "INSERT INTO %s VALUES ", qualified)
			if err := c.query(ctx, w, "SELECT * FROM "+qualified+" FORMAT Values"); err != nil {
				return err
			}
			w.WriteString(";\n")
		}
	}
	return nil
}

func (c *ClickHouseDatabase) databases(ctx context.Context) ([]string, error) {
	quoted := make([]string, len(clickhouseSystemDatabases))
	for i, name := range clickhouseSystemDatabases {
		quoted[i] = "'" + name + "'"
	}
	out, err := c.queryString(ctx,
		"SELECT name FROM system.databases WHERE name NOT IN ("+strings.Join(quoted, ", ")+") ORDER BY name FORMAT TSVRaw")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// tables lists tables before views so that views are created after what they select from.
func (c *ClickHouseDatabase) tables(ctx context.Context, db string) ([]clickhouseTable, error) {
	out, err := c.queryString(ctx,
		"SELECT name, engine FROM system.tables WHERE database = {db:String} AND NOT is_temporary ORDER BY name FORMAT TSVRaw",
		"--param_db="+db)
	if err != nil {
		return nil, err
	}

	var tables []clickhouseTable
	for _, line := range splitLines(out) {
		name, engine, _ := strings.Cut(line, "\t")
		tables = append(tables, clickhouseTable{name: name, engine: engine})
	}
	sort.SliceStable(tables, func(i, j int) bool {
		return !tables[i].isView() && tables[j].isView()
	})
	return tables, nil
}

func (c *ClickHouseDatabase) clientArgs(extra ...string) []string {
	args := []string{"clickhouse-client", "--user", c.config.User}
	if c.config.Password != "" {
		args = append(args, "--password", c.config.Password)
	}
	return append(args, extra...)
}

func (c *ClickHouseDatabase) query(ctx context.Context, w io.Writer, query string, extra ...string) error {
	args := c.clientArgs(extra...)
	args = append(args, "--query", query)
	err := c.runtime.Exec(ctx, domain.ExecRequest{
		Container: c.config.Container,
		Command:   args,
		Stdout:    w,
	})
	if err != nil {
		return fmt.Errorf("clickhouse-client failed: %w", err)
	}
	return nil
}

func (c *ClickHouseDatabase) queryString(ctx context.Context, query string, extra ...string) (string, error) {
	var out bytes.Buffer
	if err := c.query(ctx, &out, query, extra...); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.String()), nil
}

func (c *ClickHouseDatabase) Restore(ctx context.Context, inputPath string) error {
	if err := c.Ping(ctx); err != nil {
		return err
	}
	return c.pipeFrom(ctx, inputPath, nil, c.clientArgs("--multiquery")...)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), "`", "\\`") + "`"
}

func ifNotExists(ddl string) string {
	for _, prefix := range []string{"CREATE TABLE ", "CREATE VIEW ", "CREATE MATERIALIZED VIEW ", "CREATE DICTIONARY "} {
		if strings.HasPrefix(ddl, prefix) {
			return prefix + "IF NOT EXISTS " + strings.TrimPrefix(ddl, prefix)
		}
	}
	return ddl
}

func splitLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimRight(line, "\r"); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
