package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/download"
	"github.com/handiism/podcast-downloader/internal/model"
)

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	dir := t.TempDir()
	s := config.DefaultSettings()
	s.DownloadsPath = filepath.Join(dir, "{podcast}")
	s.DatabasePath = filepath.Join(dir, "episodes.db")
	s.CheckFreeSpace = false
	s.EmbedCoverArt = false
	return s
}

func TestEngine_DownloadAndResumeFromDatabase(t *testing.T) {
	data := bytes.Repeat([]byte("podcast"), 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	settings := testSettings(t)
	ctx := context.Background()

	e, err := New(settings, zerolog.Nop(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	podcast := &model.Podcast{Title: "Show"}
	first, err := e.Episode(ctx, podcast, srv.URL+"/one.m4a", "One")
	if err != nil {
		t.Fatalf("Episode() error = %v", err)
	}
	if _, err := e.Episode(ctx, podcast, srv.URL+"/two.m4a", "Two"); err != nil {
		t.Fatalf("Episode() error = %v", err)
	}

	task, err := e.NewTask(first)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}
	e.Manager.AddTask(task, false)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.Manager.Wait(waitCtx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if task.Status() != download.StatusDone {
		t.Fatalf("Status() = %v, want %v", task.Status(), download.StatusDone)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	e, err = New(settings, zerolog.Nop(), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close(ctx)

	stored, err := e.Store.Load(ctx, first.ID)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !stored.Downloaded || stored.LocalPath != task.Filename() {
		t.Errorf("stored episode = %v %q, want downloaded at %q", stored.Downloaded, stored.LocalPath, task.Filename())
	}

	pending, err := e.PendingTasks(ctx)
	if err != nil {
		t.Fatalf("PendingTasks() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Episode().Title != "Two" {
		t.Fatalf("PendingTasks() = %v, want [Two]", pending)
	}
}

func TestEngine_CommandHook(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no POSIX shell")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	settings := testSettings(t)
	out := filepath.Join(t.TempDir(), "hook.txt")
	settings.CmdDownloadComplete = `echo "$GPODDER_EPISODE_FILENAME" > ` + out

	ctx := context.Background()
	e, err := New(settings, zerolog.Nop(), Options{InMemory: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer e.Close(ctx)

	episode, _ := e.Episode(ctx, &model.Podcast{Title: "Show"}, srv.URL+"/ep.ogg", "Ep")
	task, err := e.NewTask(episode)
	if err != nil {
		t.Fatal(err)
	}
	e.Manager.AddTask(task, false)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	e.Manager.Wait(waitCtx)

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook output missing: %v", err)
	}
	if strings.TrimSpace(string(got)) != task.Filename() {
		t.Errorf("hook saw %q, want %q", strings.TrimSpace(string(got)), task.Filename())
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level   string
		verbose bool
		want    zerolog.Level
	}{
		{"", false, zerolog.InfoLevel},
		{"warn", false, zerolog.WarnLevel},
		{"warn", true, zerolog.DebugLevel},
		{"bogus", false, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := NewLogger(&bytes.Buffer{}, tt.level, tt.verbose).GetLevel(); got != tt.want {
				t.Errorf("GetLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
