// Package media_test tests the media transfer gateway.
package media_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
	"github.com/book-expert/song-service/internal/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockDelete = errors.New("mock delete error")

// memStore is an in-memory core.ObjectStore.
type memStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	infos      map[string]core.ObjectInfo
	failDelete string
	stats      int
	lists      int
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, infos: map[string]core.ObjectInfo{}}
}

func (m *memStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, core.ErrObjectNotFound
	}

	return data, nil
}

func (m *memStore) Upload(_ context.Context, key string, data []byte, meta core.ObjectMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	m.infos[key] = core.ObjectInfo{
		Key:       key,
		Size:      int64(len(data)),
		Tags:      meta.Tags,
		Retention: meta.Retention,
		CreatedAt: time.Now(),
	}

	return nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	if key == m.failDelete {
		return errMockDelete
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	delete(m.infos, key)

	return nil
}

func (m *memStore) List(_ context.Context) ([]core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists++

	infos := make([]core.ObjectInfo, 0, len(m.infos))
	for _, info := range m.infos {
		infos = append(infos, info)
	}

	return infos, nil
}

func (m *memStore) Stat(_ context.Context, key string) (core.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats++

	info, ok := m.infos[key]
	if !ok {
		return core.ObjectInfo{}, core.ErrObjectNotFound
	}

	return info, nil
}

func (m *memStore) backdate(key string, age time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info := m.infos[key]
	info.CreatedAt = time.Now().Add(-age)
	m.infos[key] = info
}

func createTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func newGateway(t *testing.T, store core.ObjectStore, maxFetch int64) *media.Gateway {
	t.Helper()

	return media.NewGateway(store, media.Options{
		PublicBaseURL: "https://songs.example.com/api/assets/",
		Retention:     24 * time.Hour,
		MaxFetchBytes: maxFetch,
		Timeout:       5 * time.Second,
	}, createTestLogger(t))
}

func TestGateway_PublishAndOpen(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gateway := newGateway(t, store, 0)
	ctx := context.Background()

	publicURL, err := gateway.Publish(ctx, "song_abc.mp3", []byte("mp3"), core.PublishOptions{Tags: []string{core.AutoDeleteTag}})
	require.NoError(t, err)

	assert.Equal(t, "https://songs.example.com/api/assets/song_abc.mp3", publicURL)
	assert.True(t, store.infos["song_abc.mp3"].HasTag(core.AutoDeleteTag))

	data, err := gateway.Open(ctx, "song_abc.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3"), data)

	require.NoError(t, gateway.Delete(ctx, "song_abc.mp3"))

	_, err = gateway.Open(ctx, "song_abc.mp3")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestGateway_PublishRequiresKey(t *testing.T) {
	t.Parallel()

	gateway := newGateway(t, newMemStore(), 0)

	_, err := gateway.Publish(context.Background(), "", []byte("x"), core.PublishOptions{})
	require.ErrorIs(t, err, media.ErrKeyEmpty)
}

func TestGateway_Fetch(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		switch request.URL.Path {
		case "/ok.mp3":
			_, _ = responseWriter.Write([]byte("0123456789"))
		case "/empty.mp3":
			responseWriter.WriteHeader(http.StatusOK)
		default:
			responseWriter.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	gateway := newGateway(t, newMemStore(), 10)
	ctx := context.Background()

	data, err := gateway.Fetch(ctx, server.URL+"/ok.mp3")
	require.NoError(t, err)
	assert.Len(t, data, 10)

	_, err = gateway.Fetch(ctx, server.URL+"/empty.mp3")
	require.ErrorIs(t, err, media.ErrEmptyAsset)

	_, err = gateway.Fetch(ctx, server.URL+"/missing.mp3")
	require.Error(t, err)

	_, err = gateway.Fetch(ctx, "")
	require.ErrorIs(t, err, media.ErrURLEmpty)

	small := newGateway(t, newMemStore(), 5)
	_, err = small.Fetch(ctx, server.URL+"/ok.mp3")
	require.ErrorIs(t, err, media.ErrAssetTooLarge)
}

func TestGateway_Lookup(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gateway := newGateway(t, store, 0)
	ctx := context.Background()

	_, err := gateway.Publish(ctx, media.SongKey("fresh"), []byte("a"), core.PublishOptions{Tags: []string{core.AutoDeleteTag}})
	require.NoError(t, err)
	_, err = gateway.Publish(ctx, media.SongKey("stale"), []byte("b"), core.PublishOptions{Tags: []string{core.AutoDeleteTag}})
	require.NoError(t, err)
	store.backdate(media.SongKey("stale"), 25*time.Hour)

	songURL, err := gateway.Lookup(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "https://songs.example.com/api/assets/song_fresh.mp3", songURL)

	_, err = gateway.Lookup(ctx, "stale")
	require.ErrorIs(t, err, core.ErrObjectNotFound)

	_, err = gateway.Lookup(ctx, "unknown")
	require.ErrorIs(t, err, core.ErrObjectNotFound)

	assert.Equal(t, 3, store.stats, "each lookup describes only its own song")
	assert.Zero(t, store.lists, "lookups never list the bucket")
}

func TestGateway_PublishStoresRetention(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gateway := newGateway(t, store, 0)
	ctx := context.Background()

	_, err := gateway.Publish(ctx, "short.mp3", []byte("x"), core.PublishOptions{
		Tags:      []string{core.AutoDeleteTag},
		Retention: time.Hour,
	})
	require.NoError(t, err)
	_, err = gateway.Publish(ctx, "default.mp3", []byte("x"), core.PublishOptions{Tags: []string{core.AutoDeleteTag}})
	require.NoError(t, err)

	assert.Equal(t, time.Hour, store.infos["short.mp3"].Retention)

	deleted, err := gateway.PurgeExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "the asset's own retention wins over the gateway default")
	assert.NotContains(t, store.objects, "short.mp3")
	assert.Contains(t, store.objects, "default.mp3")

	_, err = gateway.Publish(ctx, media.SongKey("brief"), []byte("x"), core.PublishOptions{
		Tags:      []string{core.AutoDeleteTag},
		Retention: time.Minute,
	})
	require.NoError(t, err)
	store.backdate(media.SongKey("brief"), 2*time.Minute)

	_, err = gateway.Lookup(ctx, "brief")
	require.ErrorIs(t, err, core.ErrObjectNotFound)
}

func TestGateway_PurgeExpired(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	gateway := newGateway(t, store, 0)
	ctx := context.Background()

	for index := range 3 {
		key := fmt.Sprintf("old_%d", index)
		require.NoError(t, store.Upload(ctx, key, []byte("x"), core.ObjectMeta{Tags: []string{core.AutoDeleteTag}}))
		store.backdate(key, 48*time.Hour)
	}

	require.NoError(t, store.Upload(ctx, "new", []byte("x"), core.ObjectMeta{Tags: []string{core.AutoDeleteTag}}))
	require.NoError(t, store.Upload(ctx, "pinned", []byte("x"), core.ObjectMeta{}))
	store.backdate("pinned", 48*time.Hour)

	deleted, err := gateway.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	assert.Contains(t, store.objects, "new")
	assert.Contains(t, store.objects, "pinned", "untagged assets are never purged")
}

func TestGateway_PurgeContinuesAfterDeleteError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.failDelete = "a"
	gateway := newGateway(t, store, 0)
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		require.NoError(t, store.Upload(ctx, key, []byte("x"), core.ObjectMeta{Tags: []string{core.AutoDeleteTag}}))
		store.backdate(key, 48*time.Hour)
	}

	deleted, err := gateway.PurgeExpired(ctx, time.Now())
	require.ErrorIs(t, err, errMockDelete)
	assert.Equal(t, 1, deleted)
}
