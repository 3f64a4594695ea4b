package core

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	mu      sync.Mutex
	objects map[string]string
	err     error
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string]string{}
	}
	f.objects[*in.Bucket+"/"+*in.Key] = string(b)
	return &s3.PutObjectOutput{}, nil
}

func TestS3PublisherUploadsFolder(t *testing.T) {
	chk := require.New(t)
	conv := stagingConv(t)
	folder := writeJob(t, conv, "staging_aaaa1111", 0)
	chk.NoError(os.MkdirAll(filepath.Join(folder, "out"), 0o755))
	chk.NoError(os.WriteFile(filepath.Join(folder, "out", "states.mat"), []byte("states"), 0o644))
	chk.NoError(NewMarkerTracker("").MarkComplete(Job{Folder: folder}))

	fp := &fakePutter{}
	p := newS3Publisher(S3Config{Bucket: "lake", Prefix: "bronze"}, fp, "completed.flag")
	chk.NoError(p.Publish(context.Background(), Job{Name: "staging_aaaa1111", Folder: folder}))

	chk.Len(fp.objects, len(conv.Roles)+1)
	chk.Equal("states", fp.objects["lake/bronze/staging_aaaa1111/out/states.mat"])
	chk.Equal("mat", fp.objects["lake/bronze/staging_aaaa1111/Wells_aaaa1111.mat"])
	chk.NotContains(fp.objects, "lake/bronze/staging_aaaa1111/completed.flag")
}

func TestS3PublisherReportsErrors(t *testing.T) {
	conv := stagingConv(t)
	folder := writeJob(t, conv, "staging_aaaa1111", 0)
	denied := errors.New("access denied")
	p := newS3Publisher(S3Config{Bucket: "lake"}, &fakePutter{err: denied}, "completed.flag")
	err := p.Publish(context.Background(), Job{Name: "staging_aaaa1111", Folder: folder})
	require.ErrorIs(t, err, denied)
	require.Contains(t, err.Error(), "s3://lake/staging_aaaa1111")
}

func TestNewPublisherSelectsTarget(t *testing.T) {
	chk := require.New(t)
	t.Setenv("AWS_CONFIG_FILE", filepath.Join(t.TempDir(), "config"))
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", filepath.Join(t.TempDir(), "credentials"))

	_, err := NewPublisher(context.Background(), PublishConfig{Target: TargetS3}, "completed.flag")
	var cfgErr *ConfigurationError
	chk.ErrorAs(err, &cfgErr)

	pub, err := NewPublisher(context.Background(), PublishConfig{
		Target: TargetS3,
		S3: S3Config{
			Bucket: "lake", Region: "us-east-1", Endpoint: "http://127.0.0.1:9000", PathStyle: true,
			AccessKeyID: "minio", SecretAccessKey: "minio123",
		},
	}, "completed.flag")
	chk.NoError(err)
	chk.IsType(&S3Publisher{}, pub)

	_, err = NewPublisher(context.Background(), PublishConfig{Target: TargetSFTP}, "completed.flag")
	chk.ErrorAs(err, &cfgErr)
}
