package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Quality is the preferred stream quality.
type Quality string

const (
	QualityNormal   Quality = "normal"
	QualityHigh     Quality = "high"
	QualityVeryHigh Quality = "very_high"
	QualityLossless Quality = "lossless"
)

// EventReporting gates reporting-event emission by URI scheme.
type EventReporting struct {
	SpotifyTracks bool `yaml:"spotify_tracks"`
	Podcasts      bool `yaml:"podcasts"`
	HTTPStreams   bool `yaml:"http_streams"`
	LocalFiles    bool `yaml:"local_files"`
}

// Config holds the daemon and playback core configuration.
type Config struct {
	Host         string `yaml:"host"`
	Port         string `yaml:"port"`
	SQLiteDBPath string `yaml:"sqlite_db_path"`

	PreferredQuality        Quality `yaml:"preferred_quality"`
	EnableCaching           bool    `yaml:"enable_caching"`
	EnableNormalization     bool    `yaml:"enable_normalization"`
	NormalizationTargetLufs float64 `yaml:"normalization_target_lufs"`
	InitialVolume           float64 `yaml:"initial_volume"`
	EnableLocalFiles        bool    `yaml:"enable_local_files"`
	EnableHTTPStreams       bool    `yaml:"enable_http_streams"`

	EventReporting EventReporting `yaml:"event_reporting"`

	// Cache sizing. HotTrackSize bounds the in-memory LRU; AuxCacheSize
	// bounds each of the audio-key/CDN/head-byte maps.
	HotTrackSize     int    `yaml:"hot_track_size"`
	ContextCacheSize int    `yaml:"context_cache_size"`
	AuxCacheSize     int    `yaml:"aux_cache_size"`
	CleanupSchedule  string `yaml:"cleanup_schedule"`

	SinkBufferMs int    `yaml:"sink_buffer_ms"`
	DeviceID     string `yaml:"device_id"`

	// ContextServiceURL and MetadataServiceURL point the resolver at the
	// remote context listing and extended-metadata APIs. Empty disables
	// context-URI playback: Play with a context URI still goes through
	// the resolver but fails closed with ContextUnavailable.
	ContextServiceURL  string `yaml:"context_service_url"`
	MetadataServiceURL string `yaml:"metadata_service_url"`
}

// Load reads configuration from environment variables with defaults.
// If WAVEE_CONFIG names a YAML file, its values are applied first and
// environment variables override them.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("WAVEE_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Host = envString("HOST", cfg.Host)
	cfg.Port = envString("PORT", cfg.Port)
	cfg.SQLiteDBPath = envString("SQLITE_DB_PATH", cfg.SQLiteDBPath)
	cfg.PreferredQuality = Quality(envString("PREFERRED_QUALITY", string(cfg.PreferredQuality)))
	cfg.EnableCaching = envBool("ENABLE_CACHING", cfg.EnableCaching)
	cfg.EnableNormalization = envBool("ENABLE_NORMALIZATION", cfg.EnableNormalization)
	cfg.NormalizationTargetLufs = envFloat("NORMALIZATION_TARGET_LUFS", cfg.NormalizationTargetLufs)
	cfg.InitialVolume = envFloat("INITIAL_VOLUME", cfg.InitialVolume)
	cfg.EnableLocalFiles = envBool("ENABLE_LOCAL_FILES", cfg.EnableLocalFiles)
	cfg.EnableHTTPStreams = envBool("ENABLE_HTTP_STREAMS", cfg.EnableHTTPStreams)
	cfg.EventReporting.SpotifyTracks = envBool("REPORT_SPOTIFY_TRACKS", cfg.EventReporting.SpotifyTracks)
	cfg.EventReporting.Podcasts = envBool("REPORT_PODCASTS", cfg.EventReporting.Podcasts)
	cfg.EventReporting.HTTPStreams = envBool("REPORT_HTTP_STREAMS", cfg.EventReporting.HTTPStreams)
	cfg.EventReporting.LocalFiles = envBool("REPORT_LOCAL_FILES", cfg.EventReporting.LocalFiles)
	cfg.HotTrackSize = envInt("HOT_TRACK_SIZE", cfg.HotTrackSize)
	cfg.ContextCacheSize = envInt("CONTEXT_CACHE_SIZE", cfg.ContextCacheSize)
	cfg.AuxCacheSize = envInt("AUX_CACHE_SIZE", cfg.AuxCacheSize)
	cfg.CleanupSchedule = envString("CACHE_CLEANUP_SCHEDULE", cfg.CleanupSchedule)
	cfg.SinkBufferMs = envInt("SINK_BUFFER_MS", cfg.SinkBufferMs)
	cfg.DeviceID = envString("DEVICE_ID", cfg.DeviceID)
	cfg.ContextServiceURL = envString("CONTEXT_SERVICE_URL", cfg.ContextServiceURL)
	cfg.MetadataServiceURL = envString("METADATA_SERVICE_URL", cfg.MetadataServiceURL)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Host:                    "127.0.0.1",
		Port:                    "9700",
		SQLiteDBPath:            "./data/wavee.db",
		PreferredQuality:        QualityHigh,
		EnableCaching:           true,
		EnableNormalization:     true,
		NormalizationTargetLufs: -14,
		InitialVolume:           1.0,
		EnableLocalFiles:        true,
		EnableHTTPStreams:       true,
		EventReporting: EventReporting{
			SpotifyTracks: true,
			Podcasts:      true,
		},
		HotTrackSize:     10000,
		ContextCacheSize: 50,
		AuxCacheSize:     1000,
		CleanupSchedule:  "@every 5m",
		SinkBufferMs:     100,
		DeviceID:         "wavee-go",
	}
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (cfg Config) validate() error {
	switch cfg.PreferredQuality {
	case QualityNormal, QualityHigh, QualityVeryHigh, QualityLossless:
	default:
		return fmt.Errorf("PREFERRED_QUALITY must be one of normal, high, very_high, lossless")
	}
	if cfg.InitialVolume < 0 || cfg.InitialVolume > 1 {
		return fmt.Errorf("INITIAL_VOLUME must be within [0.0, 1.0]")
	}
	if cfg.HotTrackSize <= 0 || cfg.AuxCacheSize <= 0 || cfg.ContextCacheSize <= 0 {
		return fmt.Errorf("cache sizes must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
