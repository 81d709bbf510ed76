package mirror

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type fakeS3 struct {
	s3iface.S3API
	inputs []*s3.PutObjectInput
	bodies [][]byte
	err    error
}

func (f *fakeS3) PutObjectWithContext(_ aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, _ := io.ReadAll(in.Body)
	f.inputs = append(f.inputs, in)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func TestKey(t *testing.T) {
	at := time.Date(2024, 12, 25, 14, 30, 45, 0, time.UTC)

	u := NewUploaderWithClient(&fakeS3{}, "bucket", "harvest")
	if got, want := u.Key("2412-15272", at), "harvest/2024-12-25/2412-15272.tar.gz"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}

	bare := NewUploaderWithClient(&fakeS3{}, "bucket", "")
	if got, want := bare.Key("2412-15272", at), "2024-12-25/2412-15272.tar.gz"; got != want {
		t.Errorf("Key() = %q, want %q", got, want)
	}
}

func TestUploadDir(t *testing.T) {
	dir := t.TempDir()
	for rel, content := range map[string]string{
		"metadata.json":                  `{"paper_title": "x"}`,
		"references.json":                `{}`,
		"tex/2412-15272v1/main.tex":      `\documentclass{article}`,
		"tex/2412-15272v1/sec/intro.tex": `\section{Intro}`,
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	fake := &fakeS3{}
	u := NewUploaderWithClient(fake, "bucket", "p")
	u.now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }

	res, err := u.UploadDir(context.Background(), "2412-15272", dir, "success")
	if err != nil {
		t.Fatalf("UploadDir() error = %v", err)
	}
	if res.Key != "p/2025-01-02/2412-15272.tar.gz" || res.Files != 4 {
		t.Errorf("UploadDir() = %+v", res)
	}
	if len(fake.inputs) != 1 {
		t.Fatalf("PutObject calls = %d, want 1", len(fake.inputs))
	}
	in := fake.inputs[0]
	if aws.StringValue(in.Bucket) != "bucket" || aws.StringValue(in.Metadata["status"]) != "success" {
		t.Errorf("PutObjectInput = %+v", in)
	}
	if res.CompressedSize != int64(len(fake.bodies[0])) {
		t.Errorf("CompressedSize = %d, body = %d bytes", res.CompressedSize, len(fake.bodies[0]))
	}

	gz, err := gzip.NewReader(bytes.NewReader(fake.bodies[0]))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}
	sort.Strings(names)
	want := []string{"metadata.json", "references.json", "tex/2412-15272v1/main.tex", "tex/2412-15272v1/sec/intro.tex"}
	if len(names) != len(want) {
		t.Fatalf("bundle entries = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("bundle entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestUploadDir_PutFails(t *testing.T) {
	u := NewUploaderWithClient(&fakeS3{err: errors.New("access denied")}, "bucket", "")
	if _, err := u.UploadDir(context.Background(), "x", t.TempDir(), "no_tex"); err == nil {
		t.Error("UploadDir() error = nil, want error")
	}
}

func TestUploadDir_MissingDir(t *testing.T) {
	u := NewUploaderWithClient(&fakeS3{}, "bucket", "")
	if _, err := u.UploadDir(context.Background(), "x", filepath.Join(t.TempDir(), "gone"), "no_tex"); err == nil {
		t.Error("UploadDir() error = nil, want error")
	}
}
