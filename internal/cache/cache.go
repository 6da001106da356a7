// Package cache is the unified metadata cache the resolver and engine
// read on the playback path: a bounded in-memory LRU in front of a
// durable cold store, plus bounded sub-caches for audio keys, CDN URLs
// and head bytes.
package cache

import (
	"context"
	"log"
	"sync"
	"time"
)

// ColdStore is the durable tier beneath the hot cache. Implementations
// are free to use any key-value store; errors surface to the cache,
// never to callers above it.
type ColdStore interface {
	GetTrack(ctx context.Context, uri string) (*TrackEntry, error)
	GetTracks(ctx context.Context, uris []string) (map[string]TrackEntry, error)
	PutTrack(ctx context.Context, entry TrackEntry) error
	PutTracks(ctx context.Context, entries []TrackEntry) error
	GetCDN(ctx context.Context, fileID string) (cdnURL string, expiresAt time.Time, err error)
	PutCDN(ctx context.Context, fileID, cdnURL string, expiresAt time.Time) error
	GetContext(ctx context.Context, contextURI string) (*ContextEntry, error)
	PutContext(ctx context.Context, entry ContextEntry) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Clear(ctx context.Context) error
}

// Options sizes the in-memory tiers.
type Options struct {
	MaxHotTracks int // strict LRU bound, default 10000
	MaxAux       int // bound for each sub-cache, default 1000
	MaxContexts  int // bound for the context cache, default 50
}

func (o Options) withDefaults() Options {
	if o.MaxHotTracks <= 0 {
		o.MaxHotTracks = 10000
	}
	if o.MaxAux <= 0 {
		o.MaxAux = 1000
	}
	if o.MaxContexts <= 0 {
		o.MaxContexts = 50
	}
	return o
}

// MetadataCache is the one API for all cached playback data.
//
// Reads take the read lock and, on a hot hit, briefly upgrade to promote
// the entry; writes take the write lock. Cold-tier failures are logged
// and demoted to misses; the cache never fails upward.
type MetadataCache struct {
	mu       sync.RWMutex
	hot      *trackLRU
	keys     *boundedMap[[]byte] // audio keys, keyed (trackURI, fileID)
	cdn      *boundedMap[string] // CDN URLs with TTL, keyed fileID
	head     *boundedMap[[]byte] // head bytes, keyed fileID
	contexts *boundedMap[ContextEntry]

	cold   ColdStore
	logger *log.Logger
	nowFn  func() time.Time

	statsMu    sync.Mutex
	hits       int64
	misses     int64
	coldErrors int64
}

// New creates a MetadataCache. cold may be nil (memory-only operation).
func New(cold ColdStore, opts Options, logger *log.Logger) *MetadataCache {
	opts = opts.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &MetadataCache{
		hot:      newTrackLRU(opts.MaxHotTracks),
		keys:     newBoundedMap[[]byte](opts.MaxAux),
		cdn:      newBoundedMap[string](opts.MaxAux),
		head:     newBoundedMap[[]byte](opts.MaxAux),
		contexts: newBoundedMap[ContextEntry](opts.MaxContexts),
		cold:     cold,
		logger:   logger,
		nowFn:    time.Now,
	}
}

func audioKeyID(trackURI, fileID string) string {
	return trackURI + "\x00" + fileID
}

// GetTrack looks up one track, hot tier first, promoting cold hits.
// The returned entry is enriched with any cached audio key, CDN URL and
// head bytes for the track's file id (keyed by URI here).
func (c *MetadataCache) GetTrack(ctx context.Context, trackURI string) (*TrackEntry, bool) {
	result := c.GetTracks(ctx, []string{trackURI})
	entry, ok := result[trackURI]
	if !ok {
		return nil, false
	}
	return &entry, true
}

// GetTracks looks up a batch, consulting the cold tier for misses and
// promoting every cold hit into the hot tier.
func (c *MetadataCache) GetTracks(ctx context.Context, trackURIs []string) map[string]TrackEntry {
	now := c.nowFn()
	found := make(map[string]TrackEntry, len(trackURIs))
	var missing []string

	c.mu.RLock()
	for _, trackURI := range trackURIs {
		if trackURI == "" {
			continue
		}
		if entry, ok := c.hot.peek(trackURI); ok {
			found[trackURI] = entry
		} else {
			missing = append(missing, trackURI)
		}
	}
	c.mu.RUnlock()

	if len(found) > 0 {
		// Promote every hit; peek above kept the read path shared.
		c.mu.Lock()
		for trackURI := range found {
			if entry, ok := c.hot.get(trackURI); ok {
				found[trackURI] = entry
			}
		}
		c.mu.Unlock()
	}

	if len(missing) > 0 && c.cold != nil {
		coldHits, err := c.coldGetTracks(ctx, missing)
		if err != nil {
			c.demote("cold read", err)
		} else if len(coldHits) > 0 {
			c.mu.Lock()
			for trackURI, entry := range coldHits {
				c.hot.put(trackURI, entry)
				found[trackURI] = entry
			}
			c.mu.Unlock()
		}
	}

	c.mu.Lock()
	for trackURI, entry := range found {
		entry.AccessedAt = now
		c.enrichLocked(&entry, now)
		found[trackURI] = entry
	}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.hits += int64(len(found))
	c.misses += int64(len(trackURIs) - len(found))
	c.statsMu.Unlock()

	return found
}

// coldGetTracks retries once on failure before giving up; transient IO
// downgrades to a miss.
func (c *MetadataCache) coldGetTracks(ctx context.Context, uris []string) (map[string]TrackEntry, error) {
	entries, err := c.cold.GetTracks(ctx, uris)
	if err == nil {
		return entries, nil
	}
	return c.cold.GetTracks(ctx, uris)
}

// enrichLocked merges sub-cache fields into the entry. Caller holds the
// write lock (sub-cache reads may evict expired entries).
func (c *MetadataCache) enrichLocked(entry *TrackEntry, now time.Time) {
	if len(entry.AudioKey) == 0 {
		if key, ok := c.keys.get(audioKeyID(entry.URI, ""), now); ok {
			entry.AudioKey = key
		}
	}
	if !entry.IsCDNValid(now) {
		if cdnURL, ok := c.cdn.get(entry.URI, now); ok {
			entry.CDNUrl = cdnURL
		}
	}
	if len(entry.HeadData) == 0 {
		if head, ok := c.head.get(entry.URI, now); ok {
			entry.HeadData = head
		}
	}
}

// SetTrack writes one entry through to hot and cold tiers. Sub-cache
// fields are only written when present.
func (c *MetadataCache) SetTrack(ctx context.Context, entry TrackEntry) {
	c.SetTracks(ctx, []TrackEntry{entry})
}

// SetTracks writes a batch through to hot and cold tiers.
func (c *MetadataCache) SetTracks(ctx context.Context, entries []TrackEntry) {
	now := c.nowFn()

	c.mu.Lock()
	for i := range entries {
		entry := entries[i]
		if entry.URI == "" {
			continue
		}
		entry.AccessedAt = now
		c.hot.put(entry.URI, entry)
		if len(entry.AudioKey) > 0 {
			c.keys.put(audioKeyID(entry.URI, ""), entry.AudioKey, now, time.Time{})
		}
		if entry.CDNUrl != "" && entry.CDNExpiry.After(now) {
			c.cdn.put(entry.URI, entry.CDNUrl, now, entry.CDNExpiry)
		}
		if len(entry.HeadData) > 0 {
			c.head.put(entry.URI, entry.HeadData, now, time.Time{})
		}
	}
	c.mu.Unlock()

	if c.cold != nil {
		if err := c.cold.PutTracks(ctx, entries); err != nil {
			if err2 := c.cold.PutTracks(ctx, entries); err2 != nil {
				c.demote("cold write", err2)
			}
		}
	}
}

// GetAudioKey returns the decryption key for (trackURI, fileID).
func (c *MetadataCache) GetAudioKey(trackURI, fileID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keys.get(audioKeyID(trackURI, fileID), c.nowFn())
}

// SetAudioKey stores the decryption key for (trackURI, fileID). Keys
// carry no TTL.
func (c *MetadataCache) SetAudioKey(trackURI, fileID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys.put(audioKeyID(trackURI, fileID), key, c.nowFn(), time.Time{})
}

// GetCDNUrl returns the CDN URL for fileID while it is unexpired,
// consulting the cold tier on a memory miss.
func (c *MetadataCache) GetCDNUrl(ctx context.Context, fileID string) (string, bool) {
	now := c.nowFn()
	c.mu.Lock()
	cdnURL, ok := c.cdn.get(fileID, now)
	c.mu.Unlock()
	if ok {
		return cdnURL, true
	}

	if c.cold == nil {
		return "", false
	}
	cdnURL, expiresAt, err := c.cold.GetCDN(ctx, fileID)
	if err != nil {
		c.demote("cold CDN read", err)
		return "", false
	}
	if cdnURL == "" || !expiresAt.After(now) {
		return "", false
	}
	c.mu.Lock()
	c.cdn.put(fileID, cdnURL, now, expiresAt)
	c.mu.Unlock()
	return cdnURL, true
}

// SetCDNUrl stores a CDN URL with its time-to-live in both tiers.
func (c *MetadataCache) SetCDNUrl(ctx context.Context, fileID, cdnURL string, ttl time.Duration) {
	now := c.nowFn()
	expiresAt := now.Add(ttl)
	c.mu.Lock()
	c.cdn.put(fileID, cdnURL, now, expiresAt)
	c.mu.Unlock()

	if c.cold != nil {
		if err := c.cold.PutCDN(ctx, fileID, cdnURL, expiresAt); err != nil {
			c.demote("cold CDN write", err)
		}
	}
}

// GetHeadData returns the pre-decrypted head bytes for fileID.
func (c *MetadataCache) GetHeadData(fileID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head.get(fileID, c.nowFn())
}

// SetHeadData stores head bytes for fileID. No TTL.
func (c *MetadataCache) SetHeadData(fileID string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.head.put(fileID, data, c.nowFn(), time.Time{})
}

// GetContext returns a cached context resolution while unexpired.
func (c *MetadataCache) GetContext(ctx context.Context, contextURI string) (*ContextEntry, bool) {
	now := c.nowFn()
	c.mu.Lock()
	entry, ok := c.contexts.get(contextURI, now)
	c.mu.Unlock()
	if ok {
		return &entry, true
	}

	if c.cold == nil {
		return nil, false
	}
	cold, err := c.cold.GetContext(ctx, contextURI)
	if err != nil {
		c.demote("cold context read", err)
		return nil, false
	}
	if cold == nil || !cold.ExpiresAt.After(now) {
		return nil, false
	}
	c.mu.Lock()
	c.contexts.put(contextURI, *cold, now, cold.ExpiresAt)
	c.mu.Unlock()
	return cold, true
}

// SetContext caches a context resolution with TTL.
func (c *MetadataCache) SetContext(ctx context.Context, entry ContextEntry) {
	now := c.nowFn()
	if !entry.ExpiresAt.After(now) {
		return
	}
	c.mu.Lock()
	c.contexts.put(entry.ContextURI, entry, now, entry.ExpiresAt)
	c.mu.Unlock()

	if c.cold != nil {
		if err := c.cold.PutContext(ctx, entry); err != nil {
			c.demote("cold context write", err)
		}
	}
}

// CleanupExpired drops expired CDN entries and expired durable rows.
func (c *MetadataCache) CleanupExpired(ctx context.Context) {
	now := c.nowFn()
	c.mu.Lock()
	dropped := c.cdn.dropExpired(now) + c.contexts.dropExpired(now)
	c.mu.Unlock()

	var coldDropped int64
	if c.cold != nil {
		var err error
		coldDropped, err = c.cold.DeleteExpired(ctx, now)
		if err != nil {
			c.demote("cold cleanup", err)
		}
	}
	if dropped > 0 || coldDropped > 0 {
		c.logger.Printf("cache cleanup: dropped %d memory, %d durable entries", dropped, coldDropped)
	}
}

// Clear empties every in-memory tier and the cold store.
func (c *MetadataCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.hot.clear()
	c.keys.clear()
	c.cdn.clear()
	c.head.clear()
	c.contexts.clear()
	c.mu.Unlock()

	if c.cold != nil {
		if err := c.cold.Clear(ctx); err != nil {
			c.demote("cold clear", err)
		}
	}

	c.statsMu.Lock()
	c.hits, c.misses, c.coldErrors = 0, 0, 0
	c.statsMu.Unlock()
}

// Statistics returns a snapshot of cache effectiveness counters.
func (c *MetadataCache) Statistics() Statistics {
	c.mu.RLock()
	stats := Statistics{
		HotTracks:  c.hot.len(),
		AudioKeys:  c.keys.len(),
		CDNUrls:    c.cdn.len(),
		HeadBlocks: c.head.len(),
		Contexts:   c.contexts.len(),
	}
	c.mu.RUnlock()

	c.statsMu.Lock()
	stats.Hits = c.hits
	stats.Misses = c.misses
	stats.ColdErrors = c.coldErrors
	c.statsMu.Unlock()
	return stats
}

func (c *MetadataCache) demote(op string, err error) {
	c.statsMu.Lock()
	c.coldErrors++
	c.statsMu.Unlock()
	c.logger.Printf("cache: %s failed, treating as miss: %v", op, err)
}
