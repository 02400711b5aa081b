// Package config provides configuration management for podcast-downloader.
//
// This package handles:
//   - Loading and saving settings from JSON files
//   - Default configuration values
//   - A live, concurrently readable settings source for the download engine
//   - Conversion to PathConfig for the model package
//
// # Default Settings
//
// Use DefaultSettings() to get sensible defaults:
//
//	settings := config.DefaultSettings()
//	// Downloads to ~/Podcasts/{podcast}
//	// At most 3 concurrent downloads, no rate limit
//
// # Loading from File
//
//	settings, err := config.Load("/path/to/config.json")
//	if err != nil {
//	    // Uses defaults if file doesn't exist
//	}
//
// # Live Settings
//
// The download engine never caches settings for the lifetime of a task.
// It reads a snapshot at each decision point, so changes made through
// Live.Update take effect on the next check:
//
//	live := config.NewLive(settings)
//	manager := download.NewManager(live, download.WithStore(store))
//	live.Update(func(s *config.Settings) { s.MaxDownloads = 1 })
package config
