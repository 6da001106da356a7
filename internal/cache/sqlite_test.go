package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/christosk92/wavee-go/internal/db"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	dbPair, err := db.Init(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	return NewSQLiteStore(dbPair)
}

func TestSQLiteStore_TrackRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.PutTrack(ctx, TrackEntry{
		URI:        "spotify:track:a",
		Title:      "Alpha",
		Artist:     "Band",
		Album:      "Record",
		AlbumURI:   "spotify:album:x",
		ArtistURI:  "spotify:artist:y",
		DurationMs: 201000,
		IsPlayable: true,
		AudioKey:   []byte{1, 2},
		AccessedAt: time.Now(),
	})
	require.NoError(t, err)

	entry, err := store.GetTrack(ctx, "spotify:track:a")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "Alpha", entry.Title)
	require.Equal(t, "spotify:album:x", entry.AlbumURI)
	require.EqualValues(t, 201000, entry.DurationMs)
	require.True(t, entry.IsPlayable)
	require.Equal(t, []byte{1, 2}, entry.AudioKey)
}

func TestSQLiteStore_GetTrack_NotFound(t *testing.T) {
	store := setupStore(t)

	entry, err := store.GetTrack(context.Background(), "spotify:track:missing")
	require.NoError(t, err)
	require.Nil(t, entry)
}

func TestSQLiteStore_MetadataUpdateKeepsAudioKey(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutTrack(ctx, TrackEntry{
		URI: "spotify:track:a", Title: "Alpha", AudioKey: []byte{7}, AccessedAt: time.Now(),
	}))
	require.NoError(t, store.PutTrack(ctx, TrackEntry{
		URI: "spotify:track:a", Title: "Alpha v2", AccessedAt: time.Now(),
	}))

	entry, err := store.GetTrack(ctx, "spotify:track:a")
	require.NoError(t, err)
	require.Equal(t, "Alpha v2", entry.Title)
	require.Equal(t, []byte{7}, entry.AudioKey)
}

func TestSQLiteStore_GetTracksBatch(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutTracks(ctx, []TrackEntry{
		{URI: "spotify:track:a", Title: "A", AccessedAt: time.Now()},
		{URI: "spotify:track:b", Title: "B", AccessedAt: time.Now()},
	}))

	found, err := store.GetTracks(ctx, []string{"spotify:track:a", "spotify:track:b", "spotify:track:c"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	require.Equal(t, "B", found["spotify:track:b"].Title)
}

func TestSQLiteStore_CDNRoundTripAndExpiry(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	require.NoError(t, store.PutCDN(ctx, "file1", "https://cdn.example/file1", expiry))

	cdnURL, expiresAt, err := store.GetCDN(ctx, "file1")
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/file1", cdnURL)
	require.Equal(t, expiry.UnixMilli(), expiresAt.UnixMilli())

	dropped, err := store.DeleteExpired(ctx, expiry.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, dropped)

	cdnURL, _, err = store.GetCDN(ctx, "file1")
	require.NoError(t, err)
	require.Empty(t, cdnURL)
}

func TestSQLiteStore_ContextRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutContext(ctx, ContextEntry{
		ContextURI: "spotify:playlist:p",
		TrackURIs:  []string{"spotify:track:a", "spotify:track:b"},
		TotalCount: 2,
		ExpiresAt:  time.Now().Add(time.Hour),
	}))

	entry, err := store.GetContext(ctx, "spotify:playlist:p")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, []string{"spotify:track:a", "spotify:track:b"}, entry.TrackURIs)
	require.Equal(t, 2, entry.TotalCount)
}

func TestCacheWithColdTier_PromotesOnMiss(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	metadataCache := New(store, Options{}, nil)
	metadataCache.SetTrack(ctx, TrackEntry{URI: "spotify:track:a", Title: "Alpha"})

	// A fresh cache over the same store misses hot but hits cold.
	fresh := New(store, Options{}, nil)
	entry, ok := fresh.GetTrack(ctx, "spotify:track:a")
	require.True(t, ok)
	require.Equal(t, "Alpha", entry.Title)

	// The promoted entry now lives in the hot tier.
	require.Equal(t, 1, fresh.Statistics().HotTracks)
}
