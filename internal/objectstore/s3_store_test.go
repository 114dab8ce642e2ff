package objectstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/objectstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

type mockObject struct {
	data     []byte
	tagging  string
	modified time.Time
}

// mockS3 is a thread-safe in-memory S3 backend with a page size of two.
// Keys in vanishing are removed the first time their tags are read.
type mockS3 struct {
	mu        sync.Mutex
	objects   map[string]mockObject
	vanishing map[string]bool
	putErr    error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string]mockObject), vanishing: make(map[string]bool)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	object, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(object.data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[*in.Key] = mockObject{data: data, tagging: aws.ToString(in.Tagging), modified: time.Now()}

	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, *in.Key)

	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string

	for key := range m.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			keys = append(keys, key)
		}
	}

	sort.Strings(keys)

	start := 0
	if in.ContinuationToken != nil {
		for index, key := range keys {
			if key == *in.ContinuationToken {
				start = index
			}
		}
	}

	end := min(start+2, len(keys))
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}

	for _, key := range keys[start:end] {
		object := m.objects[key]
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(key),
			Size:         aws.Int64(int64(len(object.data))),
			LastModified: aws.Time(object.modified),
		})
	}

	if end < len(keys) {
		out.NextContinuationToken = aws.String(keys[end])
	}

	return out, nil
}

func (m *mockS3) GetObjectTagging(_ context.Context, in *s3.GetObjectTaggingInput, _ ...func(*s3.Options)) (*s3.GetObjectTaggingOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.vanishing[*in.Key] {
		delete(m.objects, *in.Key)
	}

	object, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}

	values, err := url.ParseQuery(object.tagging)
	if err != nil {
		return nil, err
	}

	out := &s3.GetObjectTaggingOutput{}
	for key, value := range values {
		out.TagSet = append(out.TagSet, types.Tag{Key: aws.String(key), Value: aws.String(value[0])})
	}

	return out, nil
}

func (m *mockS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	object, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NotFound"}
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(object.data))),
		LastModified:  aws.Time(object.modified),
	}, nil
}

func TestS3Store_UploadDownload(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	store := objectstore.NewS3(mock, "bucket", "songs")
	ctx := context.Background()

	err := store.Upload(ctx, "song_1.mp3", []byte("audio"), core.ObjectMeta{ContentType: "audio/mpeg", Tags: []string{core.AutoDeleteTag}})
	require.NoError(t, err)

	assert.Contains(t, mock.objects, "songs/song_1.mp3")
	assert.Equal(t, "auto_delete=true", mock.objects["songs/song_1.mp3"].tagging)

	data, err := store.Download(ctx, "song_1.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("audio"), data)
}

func TestS3Store_DownloadMissing(t *testing.T) {
	t.Parallel()

	store := objectstore.NewS3(newMockS3(), "bucket", "")

	_, err := store.Download(context.Background(), "missing")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestS3Store_ListPaginatesAndReadsTags(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	store := objectstore.NewS3(mock, "bucket", "songs")
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.Upload(ctx, key, []byte(key), core.ObjectMeta{Tags: []string{core.AutoDeleteTag}}))
	}

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 5)

	for _, info := range infos {
		assert.NotContains(t, info.Key, "songs/", "keys are returned without the prefix")
		assert.True(t, info.HasTag(core.AutoDeleteTag))
		assert.Equal(t, int64(1), info.Size)
	}

	require.NoError(t, store.Delete(ctx, "a"))

	infos, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 4)
}

func TestS3Store_ListSkipsObjectsDeletedMidListing(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	store := objectstore.NewS3(mock, "bucket", "songs")
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, store.Upload(ctx, key, []byte(key), core.ObjectMeta{Tags: []string{core.AutoDeleteTag}}))
	}

	mock.vanishing["songs/b"] = true

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Key)
	assert.Equal(t, "c", infos[1].Key)
}

func TestS3Store_StatAndRetention(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	store := objectstore.NewS3(mock, "bucket", "songs")
	ctx := context.Background()

	err := store.Upload(ctx, "song_1.mp3", []byte("abc"), core.ObjectMeta{
		ContentType: "audio/mpeg",
		Tags:        []string{core.AutoDeleteTag},
		Retention:   90 * time.Minute,
	})
	require.NoError(t, err)

	tagging, err := url.ParseQuery(mock.objects["songs/song_1.mp3"].tagging)
	require.NoError(t, err)
	assert.Equal(t, "5400", tagging.Get("retention"))
	assert.Equal(t, "true", tagging.Get(core.AutoDeleteTag))

	info, err := store.Stat(ctx, "song_1.mp3")
	require.NoError(t, err)
	assert.Equal(t, "song_1.mp3", info.Key)
	assert.Equal(t, int64(3), info.Size)
	assert.Equal(t, 90*time.Minute, info.Retention)
	assert.Equal(t, []string{core.AutoDeleteTag}, info.Tags)
	assert.False(t, info.CreatedAt.IsZero())

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, 90*time.Minute, infos[0].Retention)

	_, err = store.Stat(ctx, "missing.mp3")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestS3Store_UploadError(t *testing.T) {
	t.Parallel()

	mock := newMockS3()
	mock.putErr = errors.New("access denied")
	store := objectstore.NewS3(mock, "bucket", "")

	err := store.Upload(context.Background(), "k", []byte("v"), core.ObjectMeta{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewS3Client(t *testing.T) {
	t.Parallel()

	client := objectstore.NewS3Client(objectstore.S3Options{
		Endpoint:        "http://127.0.0.1:9000",
		Region:          "us-east-1",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})

	require.NotNil(t, client)
	assert.Equal(t, "us-east-1", client.Options().Region)
}
