package database

import (
	"context"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

type MySQLDatabase struct {
	base
}

func NewMySQL(cfg config.TargetConfig, rt domain.ContainerRuntime) *MySQLDatabase {
	return &MySQLDatabase{base{kind: domain.KindMySQL, config: cfg, runtime: rt}}
}

func (m *MySQLDatabase) Backup(ctx context.Context, outputPath string) error {
	if err := m.Ping(ctx); err != nil {
		return err
	}

	return m.dumpTo(ctx, outputPath, secretEnv("MYSQL_PWD", m.config.Password),
		"mysqldump",
		"--user="+m.config.User,
		"--all-databases",
		"--single-transaction",
		"--quick",
		"--routines",
		"--triggers",
		"--events",
	)
}

func (m *MySQLDatabase) Restore(ctx context.Context, inputPath string) error {
	if err := m.Ping(ctx); err != nil {
		return err
	}

	return m.pipeFrom(ctx, inputPath, secretEnv("MYSQL_PWD", m.config.Password),
		"mysql",
		"--user="+m.config.User,
	)
}
