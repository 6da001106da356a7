package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/christosk92/wavee-go/internal/uri"
)

// LocalFileSource serves file:// URLs and absolute paths.
type LocalFileSource struct{}

// NewLocalFileSource creates the source.
func NewLocalFileSource() *LocalFileSource { return &LocalFileSource{} }

// CanHandle reports whether the URI names a local file.
func (s *LocalFileSource) CanHandle(trackURI string) bool {
	_, ok := uri.LocalPath(trackURI)
	return ok
}

// Load opens the file. Local streams are always seekable.
func (s *LocalFileSource) Load(_ context.Context, trackURI string) (TrackStream, error) {
	path, ok := uri.LocalPath(trackURI)
	if !ok {
		return nil, os.ErrInvalid
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &localStream{file: file, metadata: Metadata{Title: title}}, nil
}

type localStream struct {
	file     *os.File
	metadata Metadata
}

func (s *localStream) Metadata() Metadata { return s.metadata }
func (s *localStream) CanSeek() bool      { return true }
func (s *localStream) Reader() io.Reader  { return s.file }

// PrefetchForSeek is a no-op for local files.
func (s *localStream) PrefetchForSeek(context.Context, int64) error { return nil }

func (s *localStream) Close() error { return s.file.Close() }
