package database

import (
	"context"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

type PostgreSQLDatabase struct {
	base
}

func NewPostgreSQL(cfg config.TargetConfig, rt domain.ContainerRuntime) *PostgreSQLDatabase {
	return &PostgreSQLDatabase{base{kind: domain.KindPostgres, config: cfg, runtime: rt}}
}

// Backup dumps the whole cluster, roles included. The dump drops objects before
// recreating them so it can be replayed over a live instance.
func (p *PostgreSQLDatabase) Backup(ctx context.Context, outputPath string) error {
	if err := p.Ping(ctx); err != nil {
		return err
	}

	return p.dumpTo(ctx, outputPath, secretEnv("PGPASSWORD", p.config.Password),
		"pg_dumpall",
		"--username="+p.config.User,
		"--clean",
		"--if-exists",
	)
}

func (p *PostgreSQLDatabase) Restore(ctx context.Context, inputPath string) error {
	if err := p.Ping(ctx); err != nil {
		return err
	}

	return p.pipeFrom(ctx, inputPath, secretEnv("PGPASSWORD", p.config.Password),
		"psql",
		"--username="+p.config.User,
		"--dbname=postgres",
		"--quiet",
	)
}
