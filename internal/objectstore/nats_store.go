// Package objectstore provides NATS and S3 implementations of the core.ObjectStore interface.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/song-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Metadata keys stored on every object.
const (
	metaTags        = "tags"
	metaContentType = "content-type"
	metaRetention   = "retention"
	tagSeparator    = ","
)

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
}

// New creates and initializes a new NatsObjectStore. A positive ttl makes the
// bucket expire objects natively in addition to the tag-based purge.
func New(jetstreamContext nats.JetStreamContext, bucketName string, ttl time.Duration) (*NatsObjectStore, error) {
	// Use a "create-first" approach.
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         ttl,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) || errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
			}
		} else {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
	}, nil
}

// Download retrieves an object from the NATS object store.
func (n *NatsObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	obj, err := n.store.Get(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, core.ErrObjectNotFound)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves an object to the NATS object store.
func (n *NatsObjectStore) Upload(_ context.Context, key string, data []byte, meta core.ObjectMeta) error {
	reader := bytes.NewReader(data)

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata: map[string]string{
			metaTags:        strings.Join(meta.Tags, tagSeparator),
			metaContentType: meta.ContentType,
			metaRetention:   formatRetention(meta.Retention),
		},
		Opts: nil,
	}, reader)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes an object. Deleting a missing object is not an error.
func (n *NatsObjectStore) Delete(_ context.Context, key string) error {
	err := n.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// List returns every live object in the bucket.
func (n *NatsObjectStore) List(_ context.Context) ([]core.ObjectInfo, error) {
	objects, err := n.store.List()
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	infos := make([]core.ObjectInfo, 0, len(objects))

	for _, object := range objects {
		if object.Deleted {
			continue
		}

		infos = append(infos, toObjectInfo(object))
	}

	return infos, nil
}

// Stat returns the description of a single live object.
func (n *NatsObjectStore) Stat(_ context.Context, key string) (core.ObjectInfo, error) {
	object, err := n.store.GetInfo(key)
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return core.ObjectInfo{}, fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, core.ErrObjectNotFound)
		}

		return core.ObjectInfo{}, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", key, n.bucket, err)
	}

	if object.Deleted {
		return core.ObjectInfo{}, fmt.Errorf("object '%s' in bucket '%s': %w", key, n.bucket, core.ErrObjectNotFound)
	}

	return toObjectInfo(object), nil
}

func toObjectInfo(object *nats.ObjectInfo) core.ObjectInfo {
	return core.ObjectInfo{
		Key:       object.Name,
		Size:      int64(object.Size), //nolint:gosec // object sizes fit in int64
		Tags:      splitTags(object.Metadata[metaTags]),
		Retention: parseRetention(object.Metadata[metaRetention]),
		CreatedAt: object.ModTime,
	}
}

// formatRetention renders a retention as whole seconds; zero renders empty.
func formatRetention(retention time.Duration) string {
	if retention <= 0 {
		return ""
	}

	return strconv.FormatInt(int64(retention/time.Second), 10)
}

// parseRetention reads a value written by formatRetention. Anything else is zero.
func parseRetention(value string) time.Duration {
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}

func splitTags(joined string) []string {
	if joined == "" {
		return nil
	}

	return strings.Split(joined, tagSeparator)
}
