package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/semmidev/stackvault/internal/domain"
)

const maxStderr = 4096

// Docker drives containers through the docker CLI. Every call is bounded by Timeout.
type Docker struct {
	Binary  string
	Timeout time.Duration
}

func NewDocker(timeout time.Duration) *Docker {
	return &Docker{Binary: "docker", Timeout: timeout}
}

func (d *Docker) IsRunning(ctx context.Context, container string) (bool, error) {
	var stdout bytes.Buffer
	err := d.run(ctx, nil, nil, &stdout, "inspect", "--format", "{{.State.Running}}", container)
	if err != nil {
		// inspect fails for unknown containers; that is "not running", not a tool failure.
		if errors.Is(err, errExit) {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(stdout.String()) == "true", nil
}

func (d *Docker) Exec(ctx context.Context, req domain.ExecRequest) error {
	args := []string{"exec"}
	if req.Stdin != nil {
		args = append(args, "-i")
	}
	names := make([]string, 0, len(req.Env))
	for name := range req.Env {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		args = append(args, "-e", name)
	}
	args = append(args, req.Container)
	args = append(args, req.Command...)

	env := make([]string, 0, len(names))
	for _, name := range names {
		env = append(env, name+"="+req.Env[name])
	}

	return d.run(ctx, env, req.Stdin, req.Stdout, args...)
}

func (d *Docker) CopyFrom(ctx context.Context, container, srcPath, dstPath string) error {
	return d.run(ctx, nil, nil, nil, "cp", container+":"+srcPath, dstPath)
}

func (d *Docker) CopyTo(ctx context.Context, srcPath, container, dstPath string) error {
	return d.run(ctx, nil, nil, nil, "cp", srcPath, container+":"+dstPath)
}

func (d *Docker) Stop(ctx context.Context, container string) error {
	return d.run(ctx, nil, nil, nil, "stop", container)
}

func (d *Docker) Start(ctx context.Context, container string) error {
	return d.run(ctx, nil, nil, nil, "start", container)
}

var errExit = errors.New("non-zero exit")

func (d *Docker) run(ctx context.Context, env []string, stdin io.Reader, stdout io.Writer, args ...string) error {
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, d.Binary, args...)
	cmd.WaitDelay = time.Second
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = stdin
	}
	if stdout != nil {
		cmd.Stdout = stdout
	}
	stderr := &limitedBuffer{limit: maxStderr}
	cmd.Stderr = stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	op := args[0]
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: docker %s timed out after %s", domain.ErrToolInvocation, op, d.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%w: %w: docker %s exited %d: %s",
			domain.ErrToolInvocation, errExit, op, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %v", domain.ErrDependencyMissing, d.Binary, err)
	}
	return fmt.Errorf("%w: docker %s: %v", domain.ErrToolInvocation, op, err)
}

// limitedBuffer keeps the first limit bytes of stderr and drops the rest.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}
