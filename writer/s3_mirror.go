package writer

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hashicorp/go-multierror"

	appconfig "adxsync/config"
	"adxsync/logger"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror copies files from the data directory to an S3 bucket so the
// snapshots can be served from object storage.
type S3Mirror struct {
	client objectPutter
	bucket string
	prefix string
	log    *logger.Log
}

// NewS3Mirror builds a mirror from the storage.s3 configuration. Static keys
// are used when both are set, otherwise the default AWS credential chain.
func NewS3Mirror(ctx context.Context, cfg appconfig.S3Config, log *logger.Log) (*S3Mirror, error) {
	if log == nil {
		log = logger.Discard()
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_mirror").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"bucket": cfg.Bucket,
		"prefix": cfg.Prefix,
		"region": cfg.Region,
	}).Debug("s3 mirror initialized")

	return newS3Mirror(client, cfg.Bucket, cfg.Prefix, log), nil
}

func newS3Mirror(client objectPutter, bucket, prefix string, log *logger.Log) *S3Mirror {
	return &S3Mirror{client: client, bucket: bucket, prefix: prefix, log: log}
}

// Key returns the object key for a file name.
func (m *S3Mirror) Key(name string) string {
	if m.prefix == "" {
		return name
	}
	return path.Join(m.prefix, name)
}

// Upload puts each named file from dir into the bucket. Every file is
// attempted; failures are combined into the returned error.
func (m *S3Mirror) Upload(ctx context.Context, dir string, names []string) ([]string, error) {
	log := m.log.WithComponent("s3_mirror").WithFields(logger.Fields{
		"bucket":    m.bucket,
		"operation": "upload",
	})

	var errs error
	uploaded := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("read %s: %w", name, err))
			continue
		}

		key := m.Key(name)
		_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(m.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			log.WithError(err).WithField("key", key).Warn("failed to upload file")
			errs = multierror.Append(errs, fmt.Errorf("failed to upload %s to S3 bucket %s: %w", name, m.bucket, err))
			continue
		}
		uploaded = append(uploaded, key)
	}

	log.WithFields(logger.Fields{
		"uploaded": len(uploaded),
		"failed":   len(names) - len(uploaded),
	}).Info("mirrored files to S3")
	return uploaded, errs
}
