package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/christosk92/wavee-go/internal/uri"
)

// HTTPStreamSource serves direct http(s) stream URLs (net radio). The
// resulting streams are not seekable.
type HTTPStreamSource struct {
	client *http.Client
}

// responseHeaderTimeout bounds only the connect+header phase; once the
// body starts streaming it has no deadline, since radio streams never
// end.
const responseHeaderTimeout = 15 * time.Second

// NewHTTPStreamSource creates the source with a client whose transport
// deadlines the response-header wait, not the body read.
func NewHTTPStreamSource() *HTTPStreamSource {
	return &HTTPStreamSource{client: &http.Client{
		Timeout:   0,
		Transport: &http.Transport{ResponseHeaderTimeout: responseHeaderTimeout},
	}}
}

// CanHandle reports whether the URI is a plain stream URL. Share links
// were already folded into spotify URIs by canonicalization.
func (s *HTTPStreamSource) CanHandle(trackURI string) bool {
	return uri.KindOf(trackURI) == uri.KindStream
}

// Load opens the stream. The request context is the caller's playback
// context, kept alive for the life of the body read; it must not be
// cancelled once the response headers arrive or the first body read
// fails with "context canceled".
func (s *HTTPStreamSource) Load(ctx context.Context, trackURI string) (TrackStream, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, trackURI, nil)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Icy-MetaData", "1")

	response, err := s.client.Do(request)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		return nil, fmt.Errorf("stream returned status %d", response.StatusCode)
	}

	metadata := Metadata{
		Title: strings.TrimSpace(response.Header.Get("icy-name")),
	}
	return &httpStream{body: response.Body, metadata: metadata}, nil
}

type httpStream struct {
	body     io.ReadCloser
	metadata Metadata
}

func (s *httpStream) Metadata() Metadata { return s.metadata }
func (s *httpStream) CanSeek() bool      { return false }
func (s *httpStream) Reader() io.Reader  { return s.body }

// PrefetchForSeek is meaningless on a live stream.
func (s *httpStream) PrefetchForSeek(context.Context, int64) error { return nil }

func (s *httpStream) Close() error { return s.body.Close() }
