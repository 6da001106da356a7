package cache

import "time"

// TrackEntry is the unified cache record for one track: metadata fields
// plus the opaque audio key, CDN location and pre-decrypted head bytes.
// Not every field is populated; zero values mean "not cached yet".
type TrackEntry struct {
	URI         string
	Title       string
	Artist      string
	Album       string
	AlbumURI    string
	ArtistURI   string
	DurationMs  int64
	TrackNumber int
	DiscNumber  int
	IsPlayable  bool
	IsExplicit  bool

	AudioKey  []byte
	CDNUrl    string
	CDNExpiry time.Time
	HeadData  []byte

	AccessedAt time.Time
}

// IsCDNValid reports whether the cached CDN URL is still usable.
func (e *TrackEntry) IsCDNValid(now time.Time) bool {
	return e.CDNUrl != "" && e.CDNExpiry.After(now)
}

// ContextEntry caches a resolved context's ordered track URIs.
type ContextEntry struct {
	ContextURI string
	TrackURIs  []string
	TotalCount int
	ExpiresAt  time.Time
}

// Statistics is a point-in-time snapshot of cache effectiveness.
type Statistics struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	HotTracks  int   `json:"hot_tracks"`
	AudioKeys  int   `json:"audio_keys"`
	CDNUrls    int   `json:"cdn_urls"`
	HeadBlocks int   `json:"head_blocks"`
	Contexts   int   `json:"contexts"`
	ColdErrors int64 `json:"cold_errors"`
}
