package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/book-expert/song-service/internal/core"
)

const (
	tagValueTrue = "true"
	// tagRetention carries the object's retention in seconds.
	tagRetention = "retention"
)

// S3Client abstracts the S3 API operations used by S3Store.
// The *s3.Client type satisfies this interface.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObjectTagging(ctx context.Context, params *s3.GetObjectTaggingInput, optFns ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Options configures a client for an S3-compatible endpoint.
type S3Options struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// NewS3Client builds an *s3.Client from static credentials.
func NewS3Client(opts S3Options) *s3.Client {
	s3Opts := s3.Options{
		Region:       opts.Region,
		UsePathStyle: opts.UsePathStyle,
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     opts.AccessKeyID,
				SecretAccessKey: opts.SecretAccessKey,
				Source:          "song-service",
			}, nil
		}),
	}

	if opts.Endpoint != "" {
		s3Opts.BaseEndpoint = aws.String(opts.Endpoint)
	}

	return s3.New(s3Opts)
}

// S3Store implements core.ObjectStore on Amazon S3 or any S3-compatible store.
// Tags are written as S3 object tags so bucket lifecycle rules can expire them too.
type S3Store struct {
	client S3Client
	bucket string
	prefix string
}

// NewS3 creates an S3-backed store. Prefix is prepended to all object keys.
func NewS3(client S3Client, bucket, prefix string) *S3Store {
	return &S3Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}

	return s.prefix + "/" + name
}

func (s *S3Store) name(key string) string {
	if s.prefix == "" {
		return key
	}

	return key[len(s.prefix)+1:]
}

// Download retrieves an object.
func (s *S3Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, fmt.Errorf("object '%s' in bucket '%s': %w", key, s.bucket, core.ErrObjectNotFound)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, s.bucket, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

// Upload stores an object with its tags.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, meta core.ObjectMeta) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   bytes.NewReader(data),
	}

	if meta.ContentType != "" {
		input.ContentType = aws.String(meta.ContentType)
	}

	tags := url.Values{}
	for _, tag := range meta.Tags {
		tags.Set(tag, tagValueTrue)
	}

	if retention := formatRetention(meta.Retention); retention != "" {
		tags.Set(tagRetention, retention)
	}

	if len(tags) > 0 {
		input.Tagging = aws.String(tags.Encode())
	}

	_, err := s.client.PutObject(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// Delete removes an object. S3 DeleteObject is already idempotent.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, s.bucket, err)
	}

	return nil
}

// List returns every object under the prefix together with its tags. Objects
// deleted while the listing runs are left out.
func (s *S3Store) List(ctx context.Context) ([]core.ObjectInfo, error) {
	var (
		infos             []core.ObjectInfo
		continuationToken *string
	)

	listPrefix := ""
	if s.prefix != "" {
		listPrefix = s.prefix + "/"
	}

	for {
		page, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(listPrefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list bucket '%s': %w", s.bucket, err)
		}

		for _, object := range page.Contents {
			key := aws.ToString(object.Key)

			tags, retention, tagErr := s.tags(ctx, key)
			if tagErr != nil {
				if isS3NotFound(tagErr) {
					continue
				}

				return nil, tagErr
			}

			infos = append(infos, core.ObjectInfo{
				Key:       s.name(key),
				Size:      aws.ToInt64(object.Size),
				Tags:      tags,
				Retention: retention,
				CreatedAt: aws.ToTime(object.LastModified),
			})
		}

		if !aws.ToBool(page.IsTruncated) || page.NextContinuationToken == nil {
			return infos, nil
		}

		continuationToken = page.NextContinuationToken
	}
}

// Stat returns the description of a single object.
func (s *S3Store) Stat(ctx context.Context, name string) (core.ObjectInfo, error) {
	key := s.key(name)

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return core.ObjectInfo{}, fmt.Errorf("object '%s' in bucket '%s': %w", name, s.bucket, core.ErrObjectNotFound)
		}

		return core.ObjectInfo{}, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", name, s.bucket, err)
	}

	tags, retention, err := s.tags(ctx, key)
	if err != nil {
		if isS3NotFound(err) {
			return core.ObjectInfo{}, fmt.Errorf("object '%s' in bucket '%s': %w", name, s.bucket, core.ErrObjectNotFound)
		}

		return core.ObjectInfo{}, err
	}

	return core.ObjectInfo{
		Key:       name,
		Size:      aws.ToInt64(head.ContentLength),
		Tags:      tags,
		Retention: retention,
		CreatedAt: aws.ToTime(head.LastModified),
	}, nil
}

// tags returns the flag tags of key, sorted, and the retention tag if present.
func (s *S3Store) tags(ctx context.Context, key string) ([]string, time.Duration, error) {
	out, err := s.client.GetObjectTagging(ctx, &s3.GetObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to get tags of object '%s': %w", key, err)
	}

	var retention time.Duration

	tags := make([]string, 0, len(out.TagSet))

	for _, tag := range out.TagSet {
		tagKey := aws.ToString(tag.Key)
		if tagKey == tagRetention {
			retention = parseRetention(aws.ToString(tag.Value))

			continue
		}

		tags = append(tags, tagKey)
	}

	sort.Strings(tags)

	return tags, retention, nil
}

// isS3NotFound reports whether err indicates the S3 object does not exist.
func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}

	return false
}

var (
	_ core.ObjectStore = (*S3Store)(nil)
	_ core.ObjectStore = (*NatsObjectStore)(nil)
)
