package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3PutAPI is the subset of the S3 client the archiver uses.
type S3PutAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver keeps a copy of every accepted pricing upload.
type Archiver struct {
	client S3PutAPI
	bucket string
	now    func() time.Time
}

func NewArchiver(client S3PutAPI, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket, now: func() time.Time { return time.Now().UTC() }}
}

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".csv":  "text/csv",
}

// Archive stores data under uploads/pricing/YYYY/MM/DD/<uuid><ext> and
// returns the object key.
func (a *Archiver) Archive(ctx context.Context, filename string, data []byte, uploadedBy string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	key := fmt.Sprintf("uploads/pricing/%s/%s%s", a.now().Format("2006/01/02"), uuid.NewString(), ext)

	contentType, ok := contentTypes[ext]
	if !ok {
		contentType = "application/octet-stream"
	}
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"original-filename": filepath.Base(filename),
			"uploaded-by":       uploadedBy,
		},
	})
	if err != nil {
		return "", fmt.Errorf("putting object to S3: %w", err)
	}
	return key, nil
}
