// Package mirror uploads finished item directories to S3 as compressed
// tar bundles.
package mirror

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Uploader handles S3 upload operations.
type Uploader struct {
	client s3iface.S3API
	bucket string
	prefix string
	now    func() time.Time
}

// UploadResult describes one uploaded bundle.
type UploadResult struct {
	Key            string `json:"s3_key"`
	Files          int    `json:"files"`
	OriginalSize   int64  `json:"original_size"`
	CompressedSize int64  `json:"compressed_size"`
}

// NewUploader creates an uploader backed by a real S3 session.
func NewUploader(bucket, prefix, region string) (*Uploader, error) {
	if region == "" {
		region = "us-east-1"
	}
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewUploaderWithClient(s3.New(sess), bucket, prefix), nil
}

// NewUploaderWithClient creates an uploader on an existing client.
func NewUploaderWithClient(client s3iface.S3API, bucket, prefix string) *Uploader {
	return &Uploader{client: client, bucket: bucket, prefix: prefix, now: time.Now}
}

// Key returns the object key for an item bundle:
// <prefix>/<YYYY-MM-DD>/<item>.tar.gz
func (u *Uploader) Key(item string, at time.Time) string {
	key := fmt.Sprintf("%s/%s.tar.gz", at.Format("2006-01-02"), item)
	if u.prefix != "" {
		key = u.prefix + "/" + key
	}
	return key
}

// UploadDir bundles every regular file under dir into a gzip-compressed tar
// and stores it under Key(item). status is attached as object metadata.
func (u *Uploader) UploadDir(ctx context.Context, item, dir, status string) (*UploadResult, error) {
	bundle, files, original, err := bundleDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to bundle %s: %w", dir, err)
	}

	key := u.Key(item, u.now())
	input := &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(bundle),
		ContentType: aws.String("application/gzip"),
		Metadata: map[string]*string{
			"item":       aws.String(item),
			"status":     aws.String(status),
			"file-count": aws.String(strconv.Itoa(files)),
		},
	}
	if _, err := u.client.PutObjectWithContext(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		Key:            key,
		Files:          files,
		OriginalSize:   original,
		CompressedSize: int64(len(bundle)),
	}, nil
}

// bundleDir writes dir's regular files, relative paths preserved, into an
// in-memory .tar.gz.
func bundleDir(dir string) ([]byte, int, int64, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	var files int
	var original int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		if err != nil {
			return err
		}
		files++
		original += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	if err := tw.Close(); err != nil {
		return nil, 0, 0, err
	}
	if err := gz.Close(); err != nil {
		return nil, 0, 0, err
	}
	return buf.Bytes(), files, original, nil
}
