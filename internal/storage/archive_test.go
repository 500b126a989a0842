package storage

import (
	"context"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	in   *s3.PutObjectInput
	body []byte
	err  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.in = in
	f.body, _ = io.ReadAll(in.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestArchiverKeyLayout(t *testing.T) {
	client := &fakeS3{}
	a := NewArchiver(client, "uploads-test")
	a.now = func() time.Time { return time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC) }

	key, err := a.Archive(context.Background(), "/tmp/Q3 Pricing.XLSX", []byte("PK\x03\x04"), "admin@ignite.test")
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^uploads/pricing/2026/03/07/[0-9a-f-]{36}\.xlsx$`), key)

	assert.Equal(t, "uploads-test", *client.in.Bucket)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", *client.in.ContentType)
	assert.Equal(t, "Q3 Pricing.XLSX", client.in.Metadata["original-filename"])
	assert.Equal(t, []byte("PK\x03\x04"), client.body)
}

func TestArchiverError(t *testing.T) {
	a := NewArchiver(&fakeS3{err: errors.New("AccessDenied")}, "b")
	_, err := a.Archive(context.Background(), "p.csv", nil, "")
	assert.ErrorContains(t, err, "AccessDenied")
}
