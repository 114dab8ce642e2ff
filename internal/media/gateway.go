// Package media implements the media transfer gateway: it downloads remote
// assets over HTTP and publishes assets to an object store behind public URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/song-service/internal/core"
)

// Content types and key layout.
const (
	ContentTypeMP3 = "audio/mpeg"
	songKeyPrefix  = "song_"
	songKeySuffix  = ".mp3"
)

var (
	// ErrURLEmpty indicates that no URL was supplied to Fetch.
	ErrURLEmpty = errors.New("url cannot be empty")
	// ErrKeyEmpty indicates that no object key was supplied.
	ErrKeyEmpty = errors.New("object key cannot be empty")
	// ErrAssetTooLarge indicates that a download exceeded the configured limit.
	ErrAssetTooLarge = errors.New("asset exceeds the download limit")
	// ErrEmptyAsset indicates that a download returned no bytes.
	ErrEmptyAsset = errors.New("asset is empty")
)

// Options configures a Gateway.
type Options struct {
	PublicBaseURL string
	Retention     time.Duration
	// MaxFetchBytes caps a single download. Zero means unlimited.
	MaxFetchBytes int64
	Timeout       time.Duration
}

// Gateway implements core.MediaGateway over a core.ObjectStore.
type Gateway struct {
	store         core.ObjectStore
	httpClient    *http.Client
	publicBaseURL string
	retention     time.Duration
	maxFetchBytes int64
	log           *logger.Logger
}

// NewGateway creates a gateway.
func NewGateway(store core.ObjectStore, opts Options, log *logger.Logger) *Gateway {
	return &Gateway{
		store:         store,
		httpClient:    &http.Client{Timeout: opts.Timeout},
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		retention:     opts.Retention,
		maxFetchBytes: opts.MaxFetchBytes,
		log:           log,
	}
}

// SongKey returns the object key of the finished song with the given ID.
func SongKey(songID string) string {
	return songKeyPrefix + songID + songKeySuffix
}

// PublicURL returns the URL under which key is served.
func (g *Gateway) PublicURL(key string) string {
	return g.publicBaseURL + "/" + url.PathEscape(key)
}

// Fetch downloads the bytes behind rawURL.
func (g *Gateway) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, ErrURLEmpty
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s returned non-OK status: %s", rawURL, resp.Status)
	}

	reader := io.Reader(resp.Body)
	if g.maxFetchBytes > 0 {
		reader = io.LimitReader(resp.Body, g.maxFetchBytes+1)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", rawURL, err)
	}

	if g.maxFetchBytes > 0 && int64(len(data)) > g.maxFetchBytes {
		return nil, fmt.Errorf("%w: more than %d bytes at %s", ErrAssetTooLarge, g.maxFetchBytes, rawURL)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyAsset, rawURL)
	}

	return data, nil
}

// Publish stores data under key and returns its public URL.
func (g *Gateway) Publish(ctx context.Context, key string, data []byte, opts core.PublishOptions) (string, error) {
	if key == "" {
		return "", ErrKeyEmpty
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = ContentTypeMP3
	}

	meta := core.ObjectMeta{ContentType: contentType, Tags: opts.Tags, Retention: opts.Retention}

	err := g.store.Upload(ctx, key, data, meta)
	if err != nil {
		return "", fmt.Errorf("failed to publish '%s': %w", key, err)
	}

	g.log.Info("Published %s (%d bytes)", key, len(data))

	return g.PublicURL(key), nil
}

// Delete removes a published asset.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrKeyEmpty
	}

	err := g.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", key, err)
	}

	return nil
}

// Open returns the stored bytes of key.
func (g *Gateway) Open(ctx context.Context, key string) ([]byte, error) {
	data, err := g.store.Download(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", key, err)
	}

	return data, nil
}

// Lookup returns the public URL of a finished song, or core.ErrObjectNotFound
// when it never existed or has expired.
func (g *Gateway) Lookup(ctx context.Context, songID string) (string, error) {
	key := SongKey(songID)

	info, err := g.store.Stat(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to look up song '%s': %w", songID, err)
	}

	if g.expired(info, time.Now()) {
		return "", fmt.Errorf("song '%s' expired: %w", songID, core.ErrObjectNotFound)
	}

	return g.PublicURL(key), nil
}

// PurgeExpired deletes every auto-delete asset older than its retention, or the
// gateway's retention when the asset carries none, and returns the number of
// deleted objects.
func (g *Gateway) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	infos, err := g.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list assets for purge: %w", err)
	}

	deleted := 0

	var errs []error

	for _, info := range infos {
		if !g.expired(info, now) {
			continue
		}

		deleteErr := g.store.Delete(ctx, info.Key)
		if deleteErr != nil {
			errs = append(errs, deleteErr)

			continue
		}

		deleted++
	}

	g.log.Info("Purged %d of %d assets at %s", deleted, len(infos), now.Format(time.RFC3339))

	return deleted, errors.Join(errs...)
}

func (g *Gateway) expired(info core.ObjectInfo, now time.Time) bool {
	retention := info.Retention
	if retention <= 0 {
		retention = g.retention
	}

	return retention > 0 && info.HasTag(core.AutoDeleteTag) && info.CreatedAt.Before(now.Add(-retention))
}

var _ core.MediaGateway = (*Gateway)(nil)
