package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

// S3CLIStorage drives the bucket through the aws CLI. Credentials are passed in
// the child environment only.
type S3CLIStorage struct {
	Binary    string
	Timeout   time.Duration
	Installer *Installer

	cfg      config.RemoteConfig
	endpoint string
	ready    bool
	lookPath func(string) (string, error)
}

func NewS3CLI(cfg config.RemoteConfig, timeout time.Duration) *S3CLIStorage {
	s := &S3CLIStorage{
		Binary:   "aws",
		Timeout:  timeout,
		cfg:      cfg,
		endpoint: normalizeEndpoint(cfg.CustomEndpoint()),
		lookPath: exec.LookPath,
	}
	if cfg.AutoInstall {
		s.Installer = NewInstaller()
	}
	return s
}

// ensureCLI looks the binary up, installing it once when an installer is configured.
func (s *S3CLIStorage) ensureCLI(ctx context.Context) error {
	if s.ready {
		return nil
	}
	if _, err := s.lookPath(s.Binary); err == nil {
		s.ready = true
		return nil
	}
	if s.Installer == nil {
		return fmt.Errorf("%w: %s not found in PATH and auto install is disabled", domain.ErrDependencyMissing, s.Binary)
	}
	if err := s.Installer.Install(ctx); err != nil {
		return err
	}
	if _, err := s.lookPath(s.Binary); err != nil {
		return fmt.Errorf("%w: %s still not found after install", domain.ErrDependencyMissing, s.Binary)
	}
	s.ready = true
	return nil
}

func (s *S3CLIStorage) url(key string) string {
	return "s3://" + s.cfg.Bucket + "/" + strings.TrimPrefix(key, "/")
}

func (s *S3CLIStorage) Upload(ctx context.Context, localPath, key string) error {
	if _, err := s.run(ctx, "s3", "cp", localPath, s.url(key), "--only-show-errors"); err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *S3CLIStorage) Download(ctx context.Context, key, localPath string) error {
	tmpPath := localPath + ".tmp"
	if _, err := s.run(ctx, "s3", "cp", s.url(key), tmpPath, "--only-show-errors"); err != nil {
		os.Remove(tmpPath)
		msg := err.Error()
		if strings.Contains(msg, "404") || strings.Contains(msg, "does not exist") || strings.Contains(msg, "NoSuchKey") {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, s.url(key))
		}
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return os.Rename(tmpPath, localPath)
}

type cliListing struct {
	Contents []struct {
		Key          string    `json:"Key"`
		Size         int64     `json:"Size"`
		LastModified time.Time `json:"LastModified"`
	} `json:"Contents"`
	CommonPrefixes []struct {
		Prefix string `json:"Prefix"`
	} `json:"CommonPrefixes"`
}

func (s *S3CLIStorage) listObjects(ctx context.Context, prefix string, delimiter bool) (*cliListing, error) {
	args := []string{"s3api", "list-objects-v2", "--bucket", s.cfg.Bucket, "--output", "json"}
	if prefix != "" {
		args = append(args, "--prefix", prefix)
	}
	if delimiter {
		args = append(args, "--delimiter", "/")
	}
	out, err := s.run(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects: %w", err)
	}

	var listing cliListing
	if len(bytes.TrimSpace(out)) == 0 {
		return &listing, nil
	}
	if err := json.Unmarshal(out, &listing); err != nil {
		return nil, fmt.Errorf("%w: unexpected list-objects-v2 output: %v", domain.ErrToolInvocation, err)
	}
	return &listing, nil
}

func (s *S3CLIStorage) ListPrefixes(ctx context.Context, prefix string) ([]string, error) {
	parent := dirPrefix(prefix)
	listing, err := s.listObjects(ctx, parent, true)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, cp := range listing.CommonPrefixes {
		if name := strings.TrimSuffix(strings.TrimPrefix(cp.Prefix, parent), "/"); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (s *S3CLIStorage) List(ctx context.Context, prefix string) ([]domain.RemoteObject, error) {
	listing, err := s.listObjects(ctx, prefix, false)
	if err != nil {
		return nil, err
	}
	objects := make([]domain.RemoteObject, 0, len(listing.Contents))
	for _, c := range listing.Contents {
		objects = append(objects, domain.RemoteObject{Key: c.Key, Size: c.Size, LastModified: c.LastModified})
	}
	return objects, nil
}

func (s *S3CLIStorage) DeletePrefix(ctx context.Context, prefix string) error {
	parent := dirPrefix(prefix)
	if parent == "" {
		return fmt.Errorf("refusing to delete the whole bucket %s", s.cfg.Bucket)
	}
	if _, err := s.run(ctx, "s3", "rm", s.url(parent), "--recursive", "--only-show-errors"); err != nil {
		return fmt.Errorf("failed to delete %s: %w", parent, err)
	}
	return nil
}

func (s *S3CLIStorage) Identity(ctx context.Context) (string, error) {
	if s.endpoint != "" {
		if _, err := s.run(ctx, "s3api", "head-bucket", "--bucket", s.cfg.Bucket); err != nil {
			return "", fmt.Errorf("bucket %s not reachable at %s: %w", s.cfg.Bucket, s.endpoint, err)
		}
		return fmt.Sprintf("bucket %s at %s", s.cfg.Bucket, s.endpoint), nil
	}

	out, err := s.run(ctx, "sts", "get-caller-identity", "--output", "json")
	if err != nil {
		return "", fmt.Errorf("failed to verify AWS credentials: %w", err)
	}
	var identity struct {
		Arn string `json:"Arn"`
	}
	if err := json.Unmarshal(out, &identity); err != nil {
		return "", fmt.Errorf("%w: unexpected get-caller-identity output: %v", domain.ErrToolInvocation, err)
	}
	return identity.Arn, nil
}

func (s *S3CLIStorage) env() []string {
	env := os.Environ()
	if s.cfg.AccessKey != "" {
		env = append(env,
			"AWS_ACCESS_KEY_ID="+s.cfg.AccessKey,
			"AWS_SECRET_ACCESS_KEY="+s.cfg.SecretKey,
		)
	}
	if s.cfg.SessionToken != "" {
		env = append(env, "AWS_SESSION_TOKEN="+s.cfg.SessionToken)
	}
	if s.cfg.Region != "" {
		env = append(env, "AWS_DEFAULT_REGION="+s.cfg.Region)
	}
	return env
}

func (s *S3CLIStorage) run(ctx context.Context, args ...string) ([]byte, error) {
	if err := s.ensureCLI(ctx); err != nil {
		return nil, err
	}

	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	if s.cfg.Region != "" {
		args = append(args, "--region", s.cfg.Region)
	}
	if s.endpoint != "" {
		args = append(args, "--endpoint-url", s.endpoint)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Binary, args...)
	cmd.WaitDelay = time.Second
	cmd.Env = s.env()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	op := strings.Join(args[:min(2, len(args))], " ")
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: aws %s timed out after %s", domain.ErrToolInvocation, op, s.Timeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, fmt.Errorf("%w: aws %s exited %d: %s",
			domain.ErrToolInvocation, op, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDependencyMissing, s.Binary, err)
	}
	return nil, fmt.Errorf("%w: aws %s: %v", domain.ErrToolInvocation, op, err)
}
