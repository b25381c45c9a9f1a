package crontab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

// System is the invoking user's crontab, accessed through the crontab binary.
type System struct {
	Binary  string
	Timeout time.Duration
}

func NewSystem(timeout time.Duration) *System {
	return &System{Binary: "crontab", Timeout: timeout}
}

// Read returns the current table; a user without a crontab has an empty one.
func (s *System) Read(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	err := s.run(ctx, nil, &stdout, &stderr, "-l")
	if err != nil {
		if strings.Contains(stderr.String(), "no crontab for") {
			return "", nil
		}
		return "", s.wrap("-l", err, stderr.String())
	}
	return stdout.String(), nil
}

// Write replaces the whole table with content.
func (s *System) Write(ctx context.Context, content string) error {
	var stderr bytes.Buffer
	if err := s.run(ctx, strings.NewReader(content), nil, &stderr, "-"); err != nil {
		return s.wrap("-", err, stderr.String())
	}
	return nil
}

func (s *System) run(ctx context.Context, stdin *strings.Reader, stdout, stderr *bytes.Buffer, args ...string) error {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.WaitDelay = time.Second
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	cmd.Stderr = stderr
	return cmd.Run()
}

func (s *System) wrap(op string, err error, stderr string) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", domain.ErrDependencyMissing, s.Binary, err)
	}
	return fmt.Errorf("%w: crontab %s: %v: %s", domain.ErrToolInvocation, op, err, strings.TrimSpace(stderr))
}
