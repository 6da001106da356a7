// Package resolver turns a context URI into an ordered, enriched list
// of track descriptors, transparently paging long contexts.
package resolver

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/christosk92/wavee-go/internal/apperrors"
	"github.com/christosk92/wavee-go/internal/cache"
	"github.com/christosk92/wavee-go/internal/track"
	"github.com/christosk92/wavee-go/internal/uri"
)

// PageTrack is one entry of a remote context page.
type PageTrack struct {
	URI     string
	UID     string
	AddedAt time.Time
}

// ContextPage is one page of a remote context listing.
type ContextPage struct {
	Tracks        []PageTrack
	NextPageToken string
	TotalCount    *int
}

// ContextService lists the tracks of a context, page by page. An empty
// pageToken requests the first page.
type ContextService interface {
	GetPage(ctx context.Context, contextURI, pageToken string) (*ContextPage, error)
}

// MetadataService batch-fetches extended track metadata for uncached URIs.
type MetadataService interface {
	GetTracksMetadata(ctx context.Context, trackURIs []string) (map[string]cache.TrackEntry, error)
}

// LoadResult is the outcome of loadContext / loadNextPage.
type LoadResult struct {
	Tracks        []track.Descriptor
	TotalCount    *int
	NextPageToken string
	IsInfinite    bool
}

// metadataBatchSize caps one extended-metadata request.
const metadataBatchSize = 500

// defaultMaxInitial bounds the first load when the caller gives no limit.
const defaultMaxInitial = 1000

// contextCacheTTL is how long a fully-loaded context stays valid.
const contextCacheTTL = 30 * time.Minute

// Resolver resolves context URIs through the remote context service and
// enriches descriptors from the metadata cache.
type Resolver struct {
	contexts ContextService
	metadata MetadataService
	cache    *cache.MetadataCache
	logger   *log.Logger
}

// New creates a Resolver. metadata may be nil (no enrichment source
// beyond the cache); cache must not be nil.
func New(contexts ContextService, metadata MetadataService, metadataCache *cache.MetadataCache, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{contexts: contexts, metadata: metadata, cache: metadataCache, logger: logger}
}

// LoadContext resolves contextURI into its ordered descriptors, paging
// until maxInitial tracks are collected or the context ends. maxInitial
// <= 0 applies the default bound. When enrich is true descriptors are
// filled from the cache and the extended-metadata service.
func (r *Resolver) LoadContext(ctx context.Context, contextURI string, maxInitial int, enrich bool) (*LoadResult, error) {
	canonical := uri.Canonicalize(contextURI)
	if canonical == "" {
		return nil, apperrors.NewValidationError("context URI is empty", nil)
	}
	if maxInitial <= 0 {
		maxInitial = defaultMaxInitial
	}

	if cached, ok := r.cache.GetContext(ctx, canonical); ok {
		return r.resultFromCached(ctx, canonical, cached, enrich), nil
	}

	collected := make([]PageTrack, 0, 64)
	var totalCount *int
	pageToken := ""
	firstPage := true

	for {
		page, err := r.contexts.GetPage(ctx, canonical, pageToken)
		if err != nil {
			if firstPage {
				return nil, apperrors.NewContextUnavailable(canonical, err)
			}
			// A later page failed mid-load: hand back the partial list
			// with the failing token so the caller can retry from there.
			r.logger.Printf("resolver: page fetch failed for %s, returning %d partial tracks: %v",
				canonical, len(collected), err)
			return r.buildResult(ctx, canonical, collected, totalCount, pageToken, enrich), nil
		}
		firstPage = false

		for _, pageTrack := range page.Tracks {
			if strings.TrimSpace(pageTrack.URI) == "" {
				continue
			}
			collected = append(collected, pageTrack)
		}
		if page.TotalCount != nil {
			totalCount = page.TotalCount
		}

		pageToken = page.NextPageToken
		if pageToken == "" || len(collected) >= maxInitial {
			break
		}
	}

	result := r.buildResult(ctx, canonical, collected, totalCount, pageToken, enrich)
	if result.NextPageToken == "" && !result.IsInfinite {
		r.cache.SetContext(ctx, cache.ContextEntry{
			ContextURI: canonical,
			TrackURIs:  urisOf(collected),
			TotalCount: intOrLen(totalCount, len(collected)),
			ExpiresAt:  time.Now().Add(contextCacheTTL),
		})
	}
	return result, nil
}

// LoadNextPage continues a paginated load from an opaque continuation
// token previously returned in a LoadResult.
func (r *Resolver) LoadNextPage(ctx context.Context, token string, enrich bool) (*LoadResult, error) {
	contextURI, serviceToken, err := decodeToken(token)
	if err != nil {
		return nil, apperrors.NewValidationError(err.Error(), nil)
	}

	page, err := r.contexts.GetPage(ctx, contextURI, serviceToken)
	if err != nil {
		return nil, apperrors.NewContextUnavailable(contextURI, err)
	}

	collected := make([]PageTrack, 0, len(page.Tracks))
	for _, pageTrack := range page.Tracks {
		if strings.TrimSpace(pageTrack.URI) == "" {
			continue
		}
		collected = append(collected, pageTrack)
	}
	return r.buildResult(ctx, contextURI, collected, page.TotalCount, page.NextPageToken, enrich), nil
}

// EnrichTracks fills descriptor display fields from the cache and the
// extended-metadata service, preserving order. Callers use it to
// re-enrich descriptors loaded earlier without enrichment.
func (r *Resolver) EnrichTracks(ctx context.Context, descriptors []track.Descriptor) []track.Descriptor {
	trackURIs := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		trackURIs = append(trackURIs, descriptor.URI)
	}

	entries := r.lookupEntries(ctx, trackURIs)

	enriched := make([]track.Descriptor, len(descriptors))
	for i, descriptor := range descriptors {
		enriched[i] = applyEntry(descriptor, entries)
	}
	return enriched
}

// lookupEntries partitions URIs into cached and uncached, batch-fetches
// the uncached ones, writes the fetched metadata through the cache, and
// returns the combined map. A failed batch is skipped; its tracks stay
// unenriched and resolution continues.
func (r *Resolver) lookupEntries(ctx context.Context, trackURIs []string) map[string]cache.TrackEntry {
	entries := r.cache.GetTracks(ctx, trackURIs)

	if r.metadata == nil {
		return entries
	}

	var uncached []string
	seen := make(map[string]bool, len(trackURIs))
	for _, trackURI := range trackURIs {
		if seen[trackURI] {
			continue
		}
		seen[trackURI] = true
		if _, ok := entries[trackURI]; !ok {
			uncached = append(uncached, trackURI)
		}
	}

	for start := 0; start < len(uncached); start += metadataBatchSize {
		end := start + metadataBatchSize
		if end > len(uncached) {
			end = len(uncached)
		}
		batch := uncached[start:end]

		fetched, err := r.metadata.GetTracksMetadata(ctx, batch)
		if err != nil {
			r.logger.Printf("resolver: metadata batch of %d failed, leaving unenriched: %v", len(batch), err)
			continue
		}
		toStore := make([]cache.TrackEntry, 0, len(fetched))
		for _, entry := range fetched {
			toStore = append(toStore, entry)
		}
		r.cache.SetTracks(ctx, toStore)
	}

	// Re-query so freshly-populated entries come back through the cache.
	return r.cache.GetTracks(ctx, trackURIs)
}

func (r *Resolver) buildResult(ctx context.Context, contextURI string, collected []PageTrack, totalCount *int, serviceToken string, enrich bool) *LoadResult {
	var entries map[string]cache.TrackEntry
	if enrich {
		entries = r.lookupEntries(ctx, urisOf(collected))
	}

	descriptors := make([]track.Descriptor, 0, len(collected))
	for _, pageTrack := range collected {
		descriptor := track.Descriptor{
			URI:     pageTrack.URI,
			UID:     pageTrack.UID,
			AddedAt: pageTrack.AddedAt,
		}
		if enrich {
			descriptor = applyEntry(descriptor, entries)
		} else {
			descriptor.IsPlayable = true
		}
		descriptors = append(descriptors, descriptor)
	}

	result := &LoadResult{
		Tracks:     descriptors,
		TotalCount: totalCount,
		IsInfinite: uri.IsInfinite(contextURI),
	}
	if serviceToken != "" {
		result.NextPageToken = encodeToken(contextURI, serviceToken)
	}
	return result
}

func (r *Resolver) resultFromCached(ctx context.Context, contextURI string, cached *cache.ContextEntry, enrich bool) *LoadResult {
	collected := make([]PageTrack, 0, len(cached.TrackURIs))
	for _, trackURI := range cached.TrackURIs {
		collected = append(collected, PageTrack{URI: trackURI})
	}
	totalCount := cached.TotalCount
	return r.buildResult(ctx, contextURI, collected, &totalCount, "", enrich)
}

// applyEntry merges a cache entry into a descriptor. Tracks that never
// got metadata stay unenriched and unplayable.
func applyEntry(descriptor track.Descriptor, entries map[string]cache.TrackEntry) track.Descriptor {
	entry, ok := entries[descriptor.URI]
	if !ok {
		descriptor.IsPlayable = false
		return descriptor
	}
	descriptor.Title = entry.Title
	descriptor.Artist = entry.Artist
	descriptor.Album = entry.Album
	descriptor.AlbumURI = entry.AlbumURI
	descriptor.ArtistURI = entry.ArtistURI
	descriptor.DurationMs = entry.DurationMs
	descriptor.TrackNumber = entry.TrackNumber
	descriptor.DiscNumber = entry.DiscNumber
	descriptor.IsPlayable = entry.IsPlayable
	descriptor.IsExplicit = entry.IsExplicit
	return descriptor
}

// Continuation tokens are opaque to callers: the context URI and the
// service's own token joined by a unit separator.
const tokenSeparator = "\x1f"

func encodeToken(contextURI, serviceToken string) string {
	return contextURI + tokenSeparator + serviceToken
}

func decodeToken(token string) (contextURI, serviceToken string, err error) {
	parts := strings.SplitN(token, tokenSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed page token")
	}
	return parts[0], parts[1], nil
}

func urisOf(collected []PageTrack) []string {
	trackURIs := make([]string, 0, len(collected))
	for _, pageTrack := range collected {
		trackURIs = append(trackURIs, pageTrack.URI)
	}
	return trackURIs
}

func intOrLen(totalCount *int, fallback int) int {
	if totalCount != nil {
		return *totalCount
	}
	return fallback
}
