package core

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// objectPutter is the part of the S3 client the publisher needs.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads completed job folders to s3://<bucket>/<prefix>/<job name>/.
type S3Publisher struct {
	cfg    S3Config
	client objectPutter
	Skip   map[string]bool
}

func NewS3Publisher(ctx context.Context, cfg S3Config, marker string) (*S3Publisher, error) {
	if cfg.Bucket == "" {
		return nil, &ConfigurationError{Reason: "s3 publish requires a bucket"}
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, &ConfigurationError{Reason: "load AWS config", Err: err}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return newS3Publisher(cfg, client, marker), nil
}

func newS3Publisher(cfg S3Config, client objectPutter, marker string) *S3Publisher {
	return &S3Publisher{cfg: cfg, client: client, Skip: map[string]bool{marker: true}}
}

func (p *S3Publisher) Publish(ctx context.Context, job Job) error {
	base := path.Join(p.cfg.Prefix, job.Name)
	n := 0
	err := filepath.WalkDir(job.Folder, func(local string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || p.Skip[d.Name()] {
			return nil
		}
		rel, err := filepath.Rel(job.Folder, local)
		if err != nil {
			return err
		}
		key := path.Join(base, filepath.ToSlash(rel))
		if err := p.putFile(ctx, local, key); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return fmt.Errorf("upload to s3://%s/%s: %w", p.cfg.Bucket, base, err)
	}
	log.Info().Str("folder", job.Folder).Str("bucket", p.cfg.Bucket).Str("prefix", base).Int("files", n).Msg("Published job")
	return nil
}

func (p *S3Publisher) putFile(ctx context.Context, local, key string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.cfg.Bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
