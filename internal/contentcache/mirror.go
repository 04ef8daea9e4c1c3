package contentcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/scriblatex/modelfetch/internal/mflog"
)

// Mirror is the SPEC_FULL.md domain-stack addition: an optional
// S3-compatible second durability tier for ContentCache, for
// organizations that keep a shared model-weights bucket alongside the
// local browser-resident cache. It is entirely additive — Cache itself
// never depends on it.
type Mirror struct {
	client *s3.Client
	bucket string
}

// NewMirror connects to bucket using the AWS SDK's default credential
// chain, mirroring the teacher's GetS3Client (downloaders/s3/downloader.go)
// but without the profile-selection flag, since --mirror-bucket is meant
// to work unattended in CI/build environments.
func NewMirror(ctx context.Context, bucket string) (*Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRetryMode("adaptive"))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for mirror bucket: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.DisableLogOutputChecksumValidationSkipped = true
	})
	return &Mirror{client: client, bucket: bucket}, nil
}

// mirrorKey uses the same sha256-of-URL scheme as Cache.key so a mirror
// object and its local cache entry share a name.
func mirrorKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// Upload pushes a completed download's bytes to the mirror bucket under
// a content-addressed key, using the multipart manager the way the
// teacher's PerformS3ObjectDownload does for downloads.
func (m *Mirror) Upload(ctx context.Context, url string, body io.Reader) error {
	log := mflog.For("contentcache.mirror")
	uploader := manager.NewUploader(m.client)
	key := mirrorKey(url)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("uploading to mirror bucket: %w", err)
	}
	log.Info().Str("url", url).Str("key", key).Msg("uploaded to mirror bucket")
	return nil
}

// Fetch pulls a mirrored object back down, for the case where the local
// cache was cleared but the mirror bucket still holds a copy — a source
// download.Job consults before falling back to the network.
func (m *Mirror) Fetch(ctx context.Context, url string, w io.WriterAt) error {
	downloader := manager.NewDownloader(m.client)
	key := mirrorKey(url)
	_, err := downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("downloading from mirror bucket: %w", err)
	}
	return nil
}

// Has checks for a mirrored object's presence without downloading it.
func (m *Mirror) Has(ctx context.Context, url string) (bool, error) {
	_, err := m.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(mirrorKey(url)),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
