package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestCache(opts Options) *MetadataCache {
	return New(nil, opts, nil)
}

func TestGetTracks_HotHitAndMiss(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()

	c.SetTrack(ctx, TrackEntry{URI: "spotify:track:a", Title: "Alpha"})

	found := c.GetTracks(ctx, []string{"spotify:track:a", "spotify:track:b"})
	require.Len(t, found, 1)
	require.Equal(t, "Alpha", found["spotify:track:a"].Title)

	stats := c.Statistics()
	require.EqualValues(t, 1, stats.Hits)
	require.EqualValues(t, 1, stats.Misses)
}

func TestHotTier_StrictLRUEviction(t *testing.T) {
	c := newTestCache(Options{MaxHotTracks: 3})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c.SetTrack(ctx, TrackEntry{URI: fmt.Sprintf("spotify:track:%d", i)})
	}

	// Touch track 0 so track 1 becomes least recent.
	_, ok := c.GetTrack(ctx, "spotify:track:0")
	require.True(t, ok)

	c.SetTrack(ctx, TrackEntry{URI: "spotify:track:3"})

	_, ok = c.GetTrack(ctx, "spotify:track:1")
	require.False(t, ok)
	_, ok = c.GetTrack(ctx, "spotify:track:0")
	require.True(t, ok)

	require.Equal(t, 3, c.Statistics().HotTracks)
}

func TestAudioKey_KeyedByTrackAndFile(t *testing.T) {
	c := newTestCache(Options{})

	c.SetAudioKey("spotify:track:a", "file1", []byte{1, 2, 3})

	key, ok := c.GetAudioKey("spotify:track:a", "file1")
	require.True(t, ok)
	require.Equal(t, []byte{1, 2, 3}, key)

	_, ok = c.GetAudioKey("spotify:track:a", "file2")
	require.False(t, ok)
}

func TestCDNUrl_ExpiryTreatedAsMiss(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.SetCDNUrl(ctx, "file1", "https://cdn.example/file1", time.Minute)

	cdnURL, ok := c.GetCDNUrl(ctx, "file1")
	require.True(t, ok)
	require.Equal(t, "https://cdn.example/file1", cdnURL)

	now = now.Add(2 * time.Minute)
	_, ok = c.GetCDNUrl(ctx, "file1")
	require.False(t, ok)
	// Observation evicted the expired entry eagerly.
	require.Equal(t, 0, c.Statistics().CDNUrls)
}

func TestBoundedMap_DropsOldestTenPercentWhenFull(t *testing.T) {
	now := time.Now()
	m := newBoundedMap[string](20)
	for i := 0; i < 20; i++ {
		m.put(fmt.Sprintf("k%d", i), "v", now.Add(time.Duration(i)*time.Second), time.Time{})
	}
	require.Equal(t, 20, m.len())

	m.put("k20", "v", now.Add(time.Hour), time.Time{})

	// 10% of 20 = 2 oldest dropped, then one inserted.
	require.Equal(t, 19, m.len())
	_, ok := m.get("k0", now)
	require.False(t, ok)
	_, ok = m.get("k1", now)
	require.False(t, ok)
	_, ok = m.get("k2", now)
	require.True(t, ok)
}

func TestCleanupExpired_DropsExpiredCDNEntries(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.SetCDNUrl(ctx, "short", "https://cdn.example/s", time.Second)
	c.SetCDNUrl(ctx, "long", "https://cdn.example/l", time.Hour)

	now = now.Add(time.Minute)
	c.CleanupExpired(ctx)

	require.Equal(t, 1, c.Statistics().CDNUrls)
	_, ok := c.GetCDNUrl(ctx, "long")
	require.True(t, ok)
}

func TestSetTracks_EnrichesSubCacheFields(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()

	c.SetTrack(ctx, TrackEntry{
		URI:      "spotify:track:a",
		Title:    "Alpha",
		AudioKey: []byte{9},
		HeadData: []byte{1, 2},
	})
	// A later metadata-only write must not lose the sub-cache fields.
	c.SetTrack(ctx, TrackEntry{URI: "spotify:track:a", Title: "Alpha v2"})

	entry, ok := c.GetTrack(ctx, "spotify:track:a")
	require.True(t, ok)
	require.Equal(t, "Alpha v2", entry.Title)
	require.Equal(t, []byte{9}, entry.AudioKey)
	require.Equal(t, []byte{1, 2}, entry.HeadData)
}

func TestClear_EmptiesEverything(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()

	c.SetTrack(ctx, TrackEntry{URI: "spotify:track:a"})
	c.SetAudioKey("spotify:track:a", "f", []byte{1})
	c.SetHeadData("f", []byte{2})
	c.Clear(ctx)

	stats := c.Statistics()
	require.Zero(t, stats.HotTracks)
	require.Zero(t, stats.AudioKeys)
	require.Zero(t, stats.HeadBlocks)
	require.Zero(t, stats.Hits)
}

func TestContextCache_TTL(t *testing.T) {
	c := newTestCache(Options{MaxContexts: 5})
	ctx := context.Background()
	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.SetContext(ctx, ContextEntry{
		ContextURI: "spotify:album:x",
		TrackURIs:  []string{"spotify:track:1", "spotify:track:2"},
		TotalCount: 2,
		ExpiresAt:  now.Add(time.Minute),
	})

	entry, ok := c.GetContext(ctx, "spotify:album:x")
	require.True(t, ok)
	require.Equal(t, []string{"spotify:track:1", "spotify:track:2"}, entry.TrackURIs)

	now = now.Add(2 * time.Minute)
	_, ok = c.GetContext(ctx, "spotify:album:x")
	require.False(t, ok)
}

func TestGetTracks_ConcurrentReaders(t *testing.T) {
	c := newTestCache(Options{})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		c.SetTrack(ctx, TrackEntry{URI: fmt.Sprintf("spotify:track:%d", i)})
	}

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				c.GetTracks(ctx, []string{
					fmt.Sprintf("spotify:track:%d", i%50),
					fmt.Sprintf("spotify:track:%d", (i+7)%50),
				})
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	require.Equal(t, 50, c.Statistics().HotTracks)
}
