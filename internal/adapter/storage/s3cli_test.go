package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

const fakeAWS = `#!/bin/sh
echo "$@" >> %[1]s
echo "key=$AWS_ACCESS_KEY_ID region=$AWS_DEFAULT_REGION" >> %[1]s
case "$1 $2" in
"s3api list-objects-v2")
	cat <<'JSON'
{
  "Contents": [
    {"Key": "backups/2024-01-01/mysql_backup_20240101_020000.sql.gz", "Size": 2048, "LastModified": "2024-01-01T02:00:05+00:00"}
  ],
  "CommonPrefixes": [
    {"Prefix": "backups/2024-01-01/"},
    {"Prefix": "backups/2024-02-15/"}
  ]
}
JSON
	;;
"s3 cp")
	case "$3" in
	s3://*)
		echo "fatal error: An error occurred (404) when calling the HeadObject operation: Key \"x\" does not exist" >&2
		exit 1
		;;
	esac
	;;
"sts get-caller-identity")
	echo '{"Arn": "arn:aws:iam::123456789012:user/backup"}'
	;;
esac
`

func newFakeCLI(t *testing.T, cfg config.RemoteConfig) (*S3CLIStorage, string) {
	dir := t.TempDir()
	log := filepath.Join(dir, "args.log")
	bin := filepath.Join(dir, "aws")
	if err := os.WriteFile(bin, []byte(fmt.Sprintf(fakeAWS, log)), 0755); err != nil {
		t.Fatal(err)
	}
	s := NewS3CLI(cfg, 0)
	s.Binary = bin
	s.Installer = nil
	return s, log
}

func readLog(path string) string {
	b, _ := os.ReadFile(path)
	return string(b)
}

func TestS3CLIStorage(t *testing.T) {
	Convey("Given the aws CLI driver", t, func() {
		cfg := config.RemoteConfig{
			Enabled:   true,
			Driver:    config.DriverCLI,
			Bucket:    "vault",
			Prefix:    "backups",
			Region:    "eu-west-1",
			AccessKey: "AKIATEST",
			SecretKey: "secret",
		}
		ctx := context.Background()

		Convey("Upload copies to the bucket key with credentials in the environment", func() {
			s, log := newFakeCLI(t, cfg)
			err := s.Upload(ctx, "/tmp/a.sql.gz", "backups/2024-01-01/a.sql.gz")

			So(err, ShouldBeNil)
			out := readLog(log)
			So(out, ShouldContainSubstring, "s3 cp /tmp/a.sql.gz s3://vault/backups/2024-01-01/a.sql.gz --only-show-errors --region eu-west-1")
			So(out, ShouldContainSubstring, "key=AKIATEST region=eu-west-1")
			So(out, ShouldNotContainSubstring, "secret")
		})

		Convey("A custom endpoint is passed through", func() {
			cfg.Endpoint = "http://minio:9000"
			s, log := newFakeCLI(t, cfg)
			So(s.Upload(ctx, "/tmp/a", "k"), ShouldBeNil)
			So(readLog(log), ShouldContainSubstring, "--endpoint-url http://minio:9000")
		})

		Convey("The default public endpoint is not passed", func() {
			cfg.Endpoint = config.DefaultEndpoint
			s, log := newFakeCLI(t, cfg)
			So(s.Upload(ctx, "/tmp/a", "k"), ShouldBeNil)
			So(readLog(log), ShouldNotContainSubstring, "--endpoint-url")
		})

		Convey("ListPrefixes returns the date folders", func() {
			s, log := newFakeCLI(t, cfg)
			prefixes, err := s.ListPrefixes(ctx, "backups")

			So(err, ShouldBeNil)
			So(prefixes, ShouldResemble, []string{"2024-01-01", "2024-02-15"})
			So(readLog(log), ShouldContainSubstring, "--prefix backups/ --delimiter /")
		})

		Convey("List returns object metadata", func() {
			s, _ := newFakeCLI(t, cfg)
			objects, err := s.List(ctx, "backups/")

			So(err, ShouldBeNil)
			So(len(objects), ShouldEqual, 1)
			So(objects[0].Size, ShouldEqual, 2048)
			So(objects[0].LastModified.Year(), ShouldEqual, 2024)
		})

		Convey("DeletePrefix removes recursively and refuses the bucket root", func() {
			s, log := newFakeCLI(t, cfg)
			So(s.DeletePrefix(ctx, "backups/2024-01-01"), ShouldBeNil)
			So(readLog(log), ShouldContainSubstring, "s3 rm s3://vault/backups/2024-01-01/ --recursive")
			So(s.DeletePrefix(ctx, ""), ShouldNotBeNil)
		})

		Convey("Download of a missing key reports not found", func() {
			s, _ := newFakeCLI(t, cfg)
			dest := filepath.Join(t.TempDir(), "x.sql.gz")
			err := s.Download(ctx, "backups/2024-01-01/x.sql.gz", dest)

			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
			_, statErr := os.Stat(dest)
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})

		Convey("Identity reports the caller ARN", func() {
			s, _ := newFakeCLI(t, cfg)
			arn, err := s.Identity(ctx)
			So(err, ShouldBeNil)
			So(arn, ShouldEqual, "arn:aws:iam::123456789012:user/backup")
		})

		Convey("A missing binary without installer is a missing dependency", func() {
			s := NewS3CLI(cfg, 0)
			s.Binary = filepath.Join(t.TempDir(), "aws")
			s.Installer = nil

			err := s.Upload(ctx, "/tmp/a", "k")
			So(errors.Is(err, domain.ErrDependencyMissing), ShouldBeTrue)
		})

		Convey("A missing binary is installed and looked up once more", func() {
			s, _ := newFakeCLI(t, cfg)
			lookups := 0
			s.lookPath = func(string) (string, error) {
				lookups++
				if lookups == 1 {
					return "", errors.New("not found")
				}
				return s.Binary, nil
			}
			var ran []string
			s.Installer = &Installer{
				LookPath: func(name string) (string, error) {
					if name == "pip3" {
						return "/usr/bin/pip3", nil
					}
					return "", errors.New("not found")
				},
				Run: func(ctx context.Context, name string, args ...string) error {
					ran = append(ran, name+" "+strings.Join(args, " "))
					return nil
				},
			}

			So(s.Upload(ctx, "/tmp/a", "k"), ShouldBeNil)
			So(lookups, ShouldEqual, 2)
			So(ran, ShouldResemble, []string{"pip3 install --user --quiet awscli"})
		})
	})
}

func TestInstaller(t *testing.T) {
	Convey("Given an installer", t, func() {
		var ran []string
		available := map[string]bool{}
		failing := map[string]bool{}
		inst := &Installer{
			LookPath: func(name string) (string, error) {
				if available[name] {
					return "/usr/bin/" + name, nil
				}
				return "", errors.New("not found")
			},
			Run: func(ctx context.Context, name string, args ...string) error {
				ran = append(ran, name)
				if failing[name] {
					return errors.New(name + " failed")
				}
				return nil
			},
		}

		Convey("apt-get updates then installs", func() {
			available["apt-get"] = true
			So(inst.Install(context.Background()), ShouldBeNil)
			So(ran, ShouldResemble, []string{"apt-get", "apt-get"})
		})

		Convey("A failing manager falls through to the next one", func() {
			available["dnf"] = true
			available["brew"] = true
			failing["dnf"] = true
			So(inst.Install(context.Background()), ShouldBeNil)
			So(ran, ShouldResemble, []string{"dnf", "brew"})
		})

		Convey("No package manager is a missing dependency", func() {
			err := inst.Install(context.Background())
			So(errors.Is(err, domain.ErrDependencyMissing), ShouldBeTrue)
			So(ran, ShouldBeEmpty)
		})

		Convey("Every manager failing is a missing dependency carrying the causes", func() {
			available["yum"] = true
			failing["yum"] = true
			err := inst.Install(context.Background())
			So(errors.Is(err, domain.ErrDependencyMissing), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "yum failed")
		})
	})
}
