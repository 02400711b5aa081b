package main

import (
	"path/filepath"
	"testing"
)

func TestLoadSettings_FlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		output:       dir,
		dbPath:       filepath.Join(dir, "x.db"),
		maxDownloads: 5,
		limitRate:    250,
		retries:      0,
		noTags:       true,
		logLevel:     "debug",
	}

	s, err := loadSettings(opts)
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if want := filepath.Join(dir, "{podcast}"); s.DownloadsPath != want {
		t.Errorf("DownloadsPath = %q, want %q", s.DownloadsPath, want)
	}
	if s.DatabasePath != opts.dbPath {
		t.Errorf("DatabasePath = %q, want %q", s.DatabasePath, opts.dbPath)
	}
	if s.MaxDownloads != 5 || !s.MaxDownloadsEnabled {
		t.Errorf("MaxDownloads = %d (enabled %v), want 5 (enabled)", s.MaxDownloads, s.MaxDownloadsEnabled)
	}
	if !s.LimitRate || s.LimitRateValue != 250 {
		t.Errorf("LimitRate = %v %v, want true 250", s.LimitRate, s.LimitRateValue)
	}
	if s.DownloadMaxRetries != 0 {
		t.Errorf("DownloadMaxRetries = %d, want 0", s.DownloadMaxRetries)
	}
	if s.ModifyTags || s.EmbedCoverArt {
		t.Error("tagging should be disabled by --no-tags")
	}
	if s.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", s.LogLevel, "debug")
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := loadSettings(options{retries: -1})
	if err != nil {
		t.Fatalf("loadSettings() error = %v", err)
	}
	if s.DownloadMaxRetries != 3 {
		t.Errorf("DownloadMaxRetries = %d, want 3", s.DownloadMaxRetries)
	}
	if s.LimitRate {
		t.Error("LimitRate = true, want false")
	}
}

func TestSizeLabel(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "unknown size"},
		{-1, "unknown size"},
		{1 << 20, "1.00 MB"},
		{5 << 19, "2.50 MB"},
	}
	for _, tt := range tests {
		if got := sizeLabel(tt.n); got != tt.want {
			t.Errorf("sizeLabel(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
