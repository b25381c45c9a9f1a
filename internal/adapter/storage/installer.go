package storage

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/semmidev/stackvault/internal/domain"
)

// installStep is one package manager invocation.
type installStep struct {
	name string
	args []string
}

// installMethod is tried only when its package manager is on PATH.
type installMethod struct {
	manager string
	steps   []installStep
}

var installMethods = []installMethod{
	{"apt-get", []installStep{
		{"apt-get", []string{"update", "-qq"}},
		{"apt-get", []string{"install", "-y", "-qq", "awscli"}},
	}},
	{"dnf", []installStep{{"dnf", []string{"install", "-y", "awscli"}}}},
	{"yum", []installStep{{"yum", []string{"install", "-y", "awscli"}}}},
	{"brew", []installStep{{"brew", []string{"install", "awscli"}}}},
	{"pip3", []installStep{{"pip3", []string{"install", "--user", "--quiet", "awscli"}}}},
}

// Installer installs the aws CLI with the first package manager that succeeds.
type Installer struct {
	LookPath func(string) (string, error)
	Run      func(ctx context.Context, name string, args ...string) error
}

func NewInstaller() *Installer {
	return &Installer{
		LookPath: exec.LookPath,
		Run: func(ctx context.Context, name string, args ...string) error {
			out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
			if err != nil {
				return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
			}
			return nil
		},
	}
}

func (i *Installer) Install(ctx context.Context) error {
	var errs []error
	for _, m := range installMethods {
		if _, err := i.LookPath(m.manager); err != nil {
			continue
		}
		if err := i.runSteps(ctx, m.steps); err != nil {
			errs = append(errs, err)
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return fmt.Errorf("%w: aws CLI is missing and no supported package manager was found", domain.ErrDependencyMissing)
	}
	return fmt.Errorf("%w: aws CLI install failed: %w", domain.ErrDependencyMissing, errors.Join(errs...))
}

func (i *Installer) runSteps(ctx context.Context, steps []installStep) error {
	for _, step := range steps {
		if err := i.Run(ctx, step.name, step.args...); err != nil {
			return err
		}
	}
	return nil
}
