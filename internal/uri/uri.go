// Package uri normalizes the identifier forms the engine accepts for
// playback. HTTP share links are folded into canonical spotify URIs;
// unknown schemes pass through unchanged and are rejected later by the
// playability check.
package uri

import (
	"net/url"
	"strings"
)

// Kind is the resource kind encoded in a canonical URI.
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
	KindEpisode  Kind = "episode"
	KindShow     Kind = "show"
	KindArtist   Kind = "artist"
	KindStation  Kind = "station"
	KindRadio    Kind = "radio"
	KindAutoplay Kind = "autoplay"
	KindLocal    Kind = "local"
	KindStream   Kind = "stream"
	KindUnknown  Kind = "unknown"
)

var shareHosts = map[string]bool{
	"open.spotify.com": true,
	"play.spotify.com": true,
}

// Canonicalize converts any accepted play form into its canonical shape.
// spotify: URIs and local/stream forms are returned as-is; open.spotify.com
// share links become spotify:{kind}:{id}. The mapping is deterministic and
// bidirectional with ToShareURL for the share-link forms.
func Canonicalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "spotify:") {
		return trimmed
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		parsed, err := url.Parse(trimmed)
		if err != nil || !shareHosts[strings.ToLower(parsed.Host)] {
			// Plain HTTP stream URL, keep verbatim.
			return trimmed
		}
		segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
		// Drop locale prefixes like /intl-de/track/ID.
		if len(segments) >= 3 && strings.HasPrefix(segments[0], "intl-") {
			segments = segments[1:]
		}
		if len(segments) >= 2 && segments[0] != "" && segments[1] != "" {
			return "spotify:" + segments[0] + ":" + segments[1]
		}
		return trimmed
	}
	return trimmed
}

// ToShareURL converts a canonical spotify URI back into an
// open.spotify.com link. Non-spotify URIs are returned unchanged.
func ToShareURL(canonical string) string {
	parts := strings.SplitN(canonical, ":", 3)
	if len(parts) != 3 || parts[0] != "spotify" {
		return canonical
	}
	return "https://open.spotify.com/" + parts[1] + "/" + parts[2]
}

// KindOf reports the resource kind of a canonical URI.
func KindOf(canonical string) Kind {
	lower := strings.ToLower(canonical)
	switch {
	case strings.HasPrefix(lower, "spotify:"):
		parts := strings.SplitN(lower, ":", 3)
		if len(parts) < 3 {
			return KindUnknown
		}
		switch Kind(parts[1]) {
		case KindTrack, KindAlbum, KindPlaylist, KindEpisode, KindShow,
			KindArtist, KindStation, KindRadio, KindAutoplay:
			return Kind(parts[1])
		}
		// Station URIs embed the seeded context, e.g.
		// spotify:station:playlist:ID.
		if strings.Contains(lower, ":station:") {
			return KindStation
		}
		return KindUnknown
	case strings.HasPrefix(lower, "file://"), strings.HasPrefix(canonical, "/"):
		return KindLocal
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return KindStream
	default:
		return KindUnknown
	}
}

// IsInfinite reports whether the context URI denotes an endless context
// (station, radio or autoplay seeds).
func IsInfinite(contextURI string) bool {
	lower := strings.ToLower(contextURI)
	return strings.Contains(lower, ":station:") ||
		strings.Contains(lower, ":radio:") ||
		strings.Contains(lower, ":autoplay:")
}

// IsPlayable reports whether a canonical URI is playable-shaped: a
// spotify track or episode, a file:// URL, an absolute path, or an
// http(s) stream URL.
func IsPlayable(canonical string) bool {
	lower := strings.ToLower(canonical)
	switch {
	case strings.HasPrefix(lower, "spotify:track:"),
		strings.HasPrefix(lower, "spotify:episode:"):
		return len(strings.SplitN(canonical, ":", 3)[2]) > 0
	case strings.HasPrefix(lower, "file://"):
		return true
	case strings.HasPrefix(canonical, "/"):
		return true
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return true
	default:
		return false
	}
}

// LocalPath extracts the filesystem path from a file:// URL or absolute
// path form. The second return is false when the URI is not local.
func LocalPath(canonical string) (string, bool) {
	if strings.HasPrefix(canonical, "/") {
		return canonical, true
	}
	lower := strings.ToLower(canonical)
	if strings.HasPrefix(lower, "file://") {
		parsed, err := url.Parse(canonical)
		if err != nil {
			return "", false
		}
		return parsed.Path, true
	}
	return "", false
}
