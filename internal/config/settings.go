package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/handiism/podcast-downloader/internal/model"
)

// Settings holds all configuration options.
type Settings struct {
	// Download settings
	DownloadsPath         string  `json:"downloads_path"`
	FileNameFormat        string  `json:"file_name_format"`
	MaxDownloads          int     `json:"max_downloads"`
	MaxDownloadsEnabled   bool    `json:"max_downloads_enabled"`
	DownloadMaxRetries    int     `json:"download_max_retries"`
	DownloadRetryCooldown float64 `json:"download_retry_cooldown"`
	DownloadRetryExponent float64 `json:"download_retry_exponent"`
	CheckFreeSpace        bool    `json:"check_free_space"`

	// Rate limiting
	LimitRate      bool    `json:"limit_rate"`
	LimitRateValue float64 `json:"limit_rate_value"` // KiB/s

	// HTTP settings
	UserAgent   string `json:"user_agent"`
	HTTPTimeout int    `json:"http_timeout"` // seconds, 0 disables

	// Post-download actions
	CmdDownloadComplete string `json:"cmd_download_complete"`
	ModifyTags          bool   `json:"modify_tags"`
	EmbedCoverArt       bool   `json:"embed_cover_art"`
	CoverArtMaxSize     int    `json:"cover_art_max_size"`

	// Playlist settings
	PlaylistFormat string `json:"playlist_format"` // m3u, pls, wpl, zpl
	M3UExtended    bool   `json:"m3u_extended"`

	// Storage and diagnostics
	DatabasePath string `json:"database_path"`
	LogLevel     string `json:"log_level"`
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		DownloadsPath:         filepath.Join(homeDir, "Podcasts", "{podcast}"),
		FileNameFormat:        "{title}",
		MaxDownloads:          3,
		MaxDownloadsEnabled:   true,
		DownloadMaxRetries:    3,
		DownloadRetryCooldown: 0.5,
		DownloadRetryExponent: 4.0,
		CheckFreeSpace:        true,

		LimitRate:      false,
		LimitRateValue: 500,

		UserAgent:   "podcast-downloader",
		HTTPTimeout: 60,

		ModifyTags:      true,
		EmbedCoverArt:   true,
		CoverArtMaxSize: 600,

		PlaylistFormat: "m3u",
		M3UExtended:    true,

		DatabasePath: filepath.Join(homeDir, ".local", "share", "podcast-downloader", "episodes.db"),
		LogLevel:     "info",
	}
}

// Load reads settings from a JSON file.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a JSON file.
func (s *Settings) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// LimitBytesPerSecond converts the configured KiB/s limit to bytes per second.
func (s *Settings) LimitBytesPerSecond() float64 {
	return s.LimitRateValue * 1024
}

// Timeout returns the HTTP client timeout.
func (s *Settings) Timeout() time.Duration {
	if s.HTTPTimeout <= 0 {
		return 0
	}
	return time.Duration(s.HTTPTimeout) * time.Second
}

// ToPathConfig converts settings to PathConfig.
func (s *Settings) ToPathConfig() *model.PathConfig {
	return &model.PathConfig{
		DownloadsPath:  s.DownloadsPath,
		FileNameFormat: s.FileNameFormat,
	}
}
