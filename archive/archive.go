// Package archive keeps copies of republished strips and generated feeds in S3.
package archive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// Archiver uploads objects to one bucket.
type Archiver struct {
	Bucket   string
	Prefix   string
	Uploader s3manageriface.UploaderAPI
}

// New returns an Archiver writing to bucket, with strip keys under prefix.
func New(sess *session.Session, bucket, prefix string) *Archiver {
	return &Archiver{
		Bucket:   bucket,
		Prefix:   prefix,
		Uploader: s3manager.NewUploader(sess),
	}
}

// Upload stores r under key and returns the object's URL.
func (a *Archiver) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	upload, err := a.Uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.Bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        r,
	})
	if err != nil {
		return "", err
	}

	return upload.Location, nil
}

// StripKey returns the object key for the image file of comic num.
func (a *Archiver) StripKey(num int, filename string) string {
	return fmt.Sprintf("%s%d/%s", a.Prefix, num, filepath.Base(filename))
}

// ArchiveStrip uploads the image at path as the strip of comic num.
func (a *Archiver) ArchiveStrip(ctx context.Context, num int, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	contentType, err := detectContentType(f, path)
	if err != nil {
		return "", err
	}

	return a.Upload(ctx, a.StripKey(num, path), f, contentType)
}

func detectContentType(f *os.File, path string) (string, error) {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t, nil
	}

	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil && err != io.EOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
