package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/christosk92/wavee-go/internal/cache"
)

// HTTPContextService is a ContextService backed by the remote context
// API over HTTP. baseURL empty means no backend is configured: GetPage
// fails every call, which the resolver surfaces as ContextUnavailable
// instead of the engine failing closed with ContextResolverUnavailable.
type HTTPContextService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPContextService creates the service. A nil client gets a
// default with a connect+read deadline suited to a JSON API call.
func NewHTTPContextService(baseURL string, client *http.Client) *HTTPContextService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPContextService{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type contextPageWire struct {
	Tracks []struct {
		URI     string    `json:"uri"`
		UID     string    `json:"uid"`
		AddedAt time.Time `json:"added_at"`
	} `json:"tracks"`
	NextPageToken string `json:"next_page_token"`
	TotalCount    *int   `json:"total_count"`
}

// GetPage fetches one page of a context listing.
func (s *HTTPContextService) GetPage(ctx context.Context, contextURI, pageToken string) (*ContextPage, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("context service not configured")
	}

	query := url.Values{"uri": {contextURI}}
	if pageToken != "" {
		query.Set("page_token", pageToken)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.baseURL+"/v1/context?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("context service returned status %d", response.StatusCode)
	}

	var wire contextPageWire
	if err := json.NewDecoder(response.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode context page: %w", err)
	}

	page := &ContextPage{NextPageToken: wire.NextPageToken, TotalCount: wire.TotalCount}
	for _, entry := range wire.Tracks {
		page.Tracks = append(page.Tracks, PageTrack{URI: entry.URI, UID: entry.UID, AddedAt: entry.AddedAt})
	}
	return page, nil
}

// HTTPMetadataService is a MetadataService backed by the extended
// metadata API over HTTP. baseURL empty means every batch fails, which
// the resolver already treats as "leave unenriched and continue".
type HTTPMetadataService struct {
	baseURL string
	client  *http.Client
}

// NewHTTPMetadataService creates the service.
func NewHTTPMetadataService(baseURL string, client *http.Client) *HTTPMetadataService {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPMetadataService{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type trackMetadataWire struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	AlbumURI    string `json:"album_uri"`
	ArtistURI   string `json:"artist_uri"`
	DurationMs  int64  `json:"duration_ms"`
	TrackNumber int    `json:"track_number"`
	DiscNumber  int    `json:"disc_number"`
	IsPlayable  bool   `json:"is_playable"`
	IsExplicit  bool   `json:"is_explicit"`
}

// GetTracksMetadata fetches extended metadata for a batch of track URIs.
func (s *HTTPMetadataService) GetTracksMetadata(ctx context.Context, trackURIs []string) (map[string]cache.TrackEntry, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("metadata service not configured")
	}

	body, err := json.Marshal(map[string][]string{"uris": trackURIs})
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/v1/tracks/metadata", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metadata service returned status %d", response.StatusCode)
	}

	var wire []trackMetadataWire
	if err := json.NewDecoder(response.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode metadata batch: %w", err)
	}

	entries := make(map[string]cache.TrackEntry, len(wire))
	for _, item := range wire {
		entries[item.URI] = cache.TrackEntry{
			URI:         item.URI,
			Title:       item.Title,
			Artist:      item.Artist,
			Album:       item.Album,
			AlbumURI:    item.AlbumURI,
			ArtistURI:   item.ArtistURI,
			DurationMs:  item.DurationMs,
			TrackNumber: item.TrackNumber,
			DiscNumber:  item.DiscNumber,
			IsPlayable:  item.IsPlayable,
			IsExplicit:  item.IsExplicit,
		}
	}
	return entries, nil
}
