package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/semmidev/stackvault/internal/config"
	"github.com/semmidev/stackvault/internal/domain"
)

// fakeBucket serves the path-style S3 calls S3Storage makes for a single bucket.
type fakeBucket struct {
	mu       sync.Mutex
	name     string
	objects  map[string][]byte
	pageSize int

	deleteCalls  int
	deleteDenied string
	heads        int
}

func newFakeBucket(name string) *fakeBucket {
	return &fakeBucket{name: name, objects: map[string][]byte{}, pageSize: 1000}
}

type listResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	IsTruncated           bool           `xml:"IsTruncated"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listObject   `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

type listObject struct {
	Key          string `xml:"Key"`
	Size         int    `xml:"Size"`
	LastModified string `xml:"LastModified"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type deleteRequest struct {
	Objects []struct {
		Key string `xml:"Key"`
	} `xml:"Object"`
}

type deleteError struct {
	Key     string `xml:"Key"`
	Code    string `xml:"Code"`
	Message string `xml:"Message"`
}

type deleteResult struct {
	XMLName xml.Name      `xml:"DeleteResult"`
	Errors  []deleteError `xml:"Error"`
}

func writeXML(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(v)
}

func writeS3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<Error><Code>%s</Code><Message>%s</Message></Error>", code, code)
}

// readBody undoes aws-chunked framing when the client used it.
func readBody(r *http.Request) ([]byte, error) {
	chunked := strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") ||
		strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-")
	if !chunked {
		return io.ReadAll(r.Body)
	}
	var out bytes.Buffer
	br := bufio.NewReader(r.Body)
	for {
		header, err := br.ReadString('\n')
		if err != nil {
			return nil, err
		}
		sizeHex, _, _ := strings.Cut(strings.TrimSpace(header), ";")
		size, err := strconv.ParseInt(sizeHex, 16, 64)
		if err != nil {
			return nil, err
		}
		if size == 0 {
			return out.Bytes(), nil
		}
		if _, err := io.CopyN(&out, br, size); err != nil {
			return nil, err
		}
		if _, err := br.ReadString('\n'); err != nil {
			return nil, err
		}
	}
}

func (f *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.name {
		writeS3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}
	query := r.URL.Query()

	switch {
	case r.Method == http.MethodHead && key == "":
		f.heads++
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "" && query.Get("list-type") == "2":
		f.list(w, query.Get("prefix"), query.Get("delimiter"), query.Get("continuation-token"))
	case r.Method == http.MethodPost && key == "" && query.Has("delete"):
		f.delete(w, r)
	case r.Method == http.MethodPut && key != "":
		data, err := readBody(r)
		if err != nil {
			writeS3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key != "":
		data, ok := f.objects[key]
		if !ok {
			writeS3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", len(data)-1, len(data)))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(data)
	default:
		writeS3Error(w, http.StatusNotImplemented, "NotImplemented")
	}
}

func (f *fakeBucket) list(w http.ResponseWriter, prefix, delimiter, token string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	result := listResult{Name: f.name, Prefix: prefix}
	if delimiter != "" {
		seen := map[string]bool{}
		for _, k := range keys {
			rest := strings.TrimPrefix(k, prefix)
			if dir, _, ok := strings.Cut(rest, delimiter); ok {
				p := prefix + dir + delimiter
				if !seen[p] {
					seen[p] = true
					result.CommonPrefixes = append(result.CommonPrefixes, commonPrefix{Prefix: p})
				}
				continue
			}
			result.Contents = append(result.Contents, listObject{Key: k, Size: len(f.objects[k]), LastModified: "2024-01-01T02:00:00.000Z"})
		}
		result.KeyCount = len(result.Contents) + len(result.CommonPrefixes)
		writeXML(w, http.StatusOK, result)
		return
	}

	start, _ := strconv.Atoi(token)
	end := min(start+f.pageSize, len(keys))
	for _, k := range keys[start:end] {
		result.Contents = append(result.Contents, listObject{Key: k, Size: len(f.objects[k]), LastModified: "2024-01-01T02:00:00.000Z"})
	}
	result.KeyCount = len(result.Contents)
	if end < len(keys) {
		result.IsTruncated = true
		result.NextContinuationToken = strconv.Itoa(end)
	}
	writeXML(w, http.StatusOK, result)
}

func (f *fakeBucket) delete(w http.ResponseWriter, r *http.Request) {
	f.deleteCalls++
	body, err := readBody(r)
	if err != nil {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	var req deleteRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}
	if len(req.Objects) > deleteBatch {
		writeS3Error(w, http.StatusBadRequest, "MalformedXML")
		return
	}

	var result deleteResult
	for _, obj := range req.Objects {
		if obj.Key == f.deleteDenied {
			result.Errors = append(result.Errors, deleteError{Key: obj.Key, Code: "AccessDenied", Message: "Access Denied"})
			continue
		}
		delete(f.objects, obj.Key)
	}
	writeXML(w, http.StatusOK, result)
}

func newTestS3(t *testing.T, bucket *fakeBucket) (*S3Storage, string) {
	server := httptest.NewServer(bucket)
	t.Cleanup(server.Close)

	s, err := NewS3(context.Background(), config.RemoteConfig{
		Bucket:    bucket.name,
		Region:    "us-east-1",
		Endpoint:  server.URL,
		AccessKey: "AKIDEXAMPLE",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatal(err)
	}
	return s, server.URL
}

func TestS3Storage(t *testing.T) {
	Convey("Given an S3Storage pointed at an S3-compatible endpoint", t, func() {
		bucket := newFakeBucket("stack-backups")
		s, endpoint := newTestS3(t, bucket)
		ctx := context.Background()

		Convey("ListPrefixes returns the date folders without the parent prefix", func() {
			bucket.objects["backups/2024-01-01/mysql_backup_20240101_020000.sql.gz"] = []byte("a")
			bucket.objects["backups/2024-01-02/backup_20240102_020000.tar.gz"] = []byte("b")
			bucket.objects["backups/stray.txt"] = []byte("c")
			bucket.objects["other/2023-12-31/x"] = []byte("d")

			prefixes, err := s.ListPrefixes(ctx, "/backups/")
			So(err, ShouldBeNil)
			So(prefixes, ShouldResemble, []string{"2024-01-01", "2024-01-02"})
		})

		Convey("List follows continuation tokens", func() {
			bucket.pageSize = 2
			for i := 0; i < 5; i++ {
				bucket.objects[fmt.Sprintf("backups/2024-01-01/f%d", i)] = []byte("xy")
			}

			objects, err := s.List(ctx, "backups/")
			So(err, ShouldBeNil)
			So(len(objects), ShouldEqual, 5)
			So(objects[0].Key, ShouldEqual, "backups/2024-01-01/f0")
			So(objects[0].Size, ShouldEqual, 2)
			So(objects[0].LastModified.IsZero(), ShouldBeFalse)
		})

		Convey("DeletePrefix removes more than one batch of keys and nothing else", func() {
			for i := 0; i < 2500; i++ {
				bucket.objects[fmt.Sprintf("backups/2024-01-01/part-%04d", i)] = []byte("x")
			}
			bucket.objects["backups/2024-01-02/keep"] = []byte("y")
			bucket.objects["backups/2024-01-010/keep"] = []byte("z")

			So(s.DeletePrefix(ctx, "backups/2024-01-01"), ShouldBeNil)
			So(bucket.deleteCalls, ShouldEqual, 3)
			So(len(bucket.objects), ShouldEqual, 2)
			So(bucket.objects, ShouldContainKey, "backups/2024-01-02/keep")
			So(bucket.objects, ShouldContainKey, "backups/2024-01-010/keep")
		})

		Convey("DeletePrefix reports per-key failures", func() {
			bucket.objects["backups/2024-01-01/a"] = []byte("x")
			bucket.objects["backups/2024-01-01/b"] = []byte("x")
			bucket.deleteDenied = "backups/2024-01-01/b"

			err := s.DeletePrefix(ctx, "backups/2024-01-01")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "backups/2024-01-01/b")
			So(err.Error(), ShouldContainSubstring, "Access Denied")
		})

		Convey("Download writes the object and leaves no temp file", func() {
			bucket.objects["backups/2024-01-01/redis_backup_20240101_020000.rdb.gz"] = []byte("REDIS0011")
			dest := filepath.Join(t.TempDir(), "redis_backup_20240101_020000.rdb.gz")

			So(s.Download(ctx, "backups/2024-01-01/redis_backup_20240101_020000.rdb.gz", dest), ShouldBeNil)
			data, err := os.ReadFile(dest)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, "REDIS0011")
			_, err = os.Stat(dest + ".tmp")
			So(os.IsNotExist(err), ShouldBeTrue)
		})

		Convey("Downloading a missing key is ErrNotFound and cleans up", func() {
			dest := filepath.Join(t.TempDir(), "missing.sql.gz")

			err := s.Download(ctx, "backups/2024-01-01/missing.sql.gz", dest)
			So(errors.Is(err, domain.ErrNotFound), ShouldBeTrue)
			_, statErr := os.Stat(dest)
			So(os.IsNotExist(statErr), ShouldBeTrue)
			_, statErr = os.Stat(dest + ".tmp")
			So(os.IsNotExist(statErr), ShouldBeTrue)
		})

		Convey("Upload stores the file under its key", func() {
			src := filepath.Join(t.TempDir(), "postgres_backup_20240101_020000.sql.gz")
			So(os.WriteFile(src, []byte("-- dump"), 0644), ShouldBeNil)

			So(s.Upload(ctx, src, "backups/2024-01-01/postgres_backup_20240101_020000.sql.gz"), ShouldBeNil)
			So(string(bucket.objects["backups/2024-01-01/postgres_backup_20240101_020000.sql.gz"]), ShouldEqual, "-- dump")
		})

		Convey("Identity checks the bucket on a custom endpoint", func() {
			identity, err := s.Identity(ctx)
			So(err, ShouldBeNil)
			So(bucket.heads, ShouldEqual, 1)
			So(identity, ShouldEqual, "bucket stack-backups at "+endpoint)

			Convey("and fails when the bucket does not exist", func() {
				s.bucket = "missing"
				_, err := s.Identity(ctx)
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "not reachable")
			})
		})
	})

	Convey("normalizeEndpoint adds a scheme when missing", t, func() {
		So(normalizeEndpoint(""), ShouldEqual, "")
		So(normalizeEndpoint("minio:9000"), ShouldEqual, "https://minio:9000")
		So(normalizeEndpoint("http://minio:9000"), ShouldEqual, "http://minio:9000")
	})

	Convey("dirPrefix yields one trailing slash", t, func() {
		So(dirPrefix(""), ShouldEqual, "")
		So(dirPrefix("/backups/"), ShouldEqual, "backups/")
		So(dirPrefix("backups/2024-01-01"), ShouldEqual, "backups/2024-01-01/")
	})
}
