package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/handiism/podcast-downloader/internal/config"
	dlhttp "github.com/handiism/podcast-downloader/internal/http"
)

type eventLog struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (l *eventLog) add(e ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) count(level ProgressLevel, prefix string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Level == level && strings.HasPrefix(e.Message, prefix) {
			n++
		}
	}
	return n
}

func startTracker(t *testing.T, m *Manager, settings config.Source, log *eventLog) *Tracker {
	t.Helper()
	tracker := NewTracker(m, settings, log.add, WithPollInterval(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return tracker
}

func TestTracker_ReportsCompletionOnce(t *testing.T) {
	srv := contentServer(t, testPayload(5000), nil)
	settings := testSettings(nil)
	m := NewManager(settings)
	log := &eventLog{}
	startTracker(t, m, settings, log)

	task := newTestTask(t, testEpisode(t.TempDir(), srv.URL+"/ep.mp3", "Episode"), TaskConfig{Settings: settings})
	m.AddTask(task, false)

	waitFor(t, 5*time.Second, "completion event", func() bool { return log.count(LevelSuccess, "Downloaded:") > 0 })
	time.Sleep(50 * time.Millisecond)

	if got := log.count(LevelSuccess, "Downloaded:"); got != 1 {
		t.Errorf("completion events = %d, want 1", got)
	}
	if task.NotifyAsFinished() {
		t.Error("NotifyAsFinished() = true after the tracker consumed it")
	}
}

func TestTracker_RetriesServerErrors(t *testing.T) {
	data := testPayload(3000)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) <= 2 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	settings := testSettings(func(s *config.Settings) { s.DownloadMaxRetries = 3 })
	m := NewManager(settings)
	log := &eventLog{}
	tracker := startTracker(t, m, settings, log)

	task := newTestTask(t, testEpisode(t.TempDir(), srv.URL+"/ep.mp3", "Episode"), TaskConfig{Settings: settings})
	m.AddTask(task, false)

	waitFor(t, 5*time.Second, "download after retries", func() bool { return log.count(LevelSuccess, "Downloaded:") == 1 })

	if got := tracker.Retries(task); got != 0 {
		t.Errorf("Retries() after success = %d, want 0 (forgotten)", got)
	}
	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if got := log.count(LevelError, "Failed:"); got != 2 {
		t.Errorf("failure events = %d, want 2", got)
	}
	if got := log.count(LevelWarning, "Retry"); got != 2 {
		t.Errorf("retry events = %d, want 2", got)
	}
}

func TestTracker_GivesUpAfterMaxRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	settings := testSettings(func(s *config.Settings) { s.DownloadMaxRetries = 2 })
	m := NewManager(settings)
	log := &eventLog{}
	tracker := startTracker(t, m, settings, log)

	task := newTestTask(t, testEpisode(t.TempDir(), srv.URL+"/ep.mp3", "Episode"), TaskConfig{Settings: settings})
	m.AddTask(task, false)

	waitFor(t, 5*time.Second, "final failure", func() bool { return log.count(LevelError, "Failed:") == 3 })
	time.Sleep(100 * time.Millisecond)

	if got := requests.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if got := tracker.Retries(task); got != 2 {
		t.Errorf("Retries() = %d, want 2", got)
	}
	if task.Status() != StatusFailed {
		t.Errorf("Status() = %v, want %v", task.Status(), StatusFailed)
	}
	if got := tracker.Scheduled(); got != 0 {
		t.Errorf("Scheduled() = %d, want 0", got)
	}
}

func TestTracker_NoRetryForClientErrors(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	settings := testSettings(nil)
	m := NewManager(settings)
	log := &eventLog{}
	tracker := startTracker(t, m, settings, log)

	task := newTestTask(t, testEpisode(t.TempDir(), srv.URL+"/ep.mp3", "Episode"), TaskConfig{Settings: settings})
	m.AddTask(task, false)

	waitFor(t, 5*time.Second, "failure event", func() bool { return log.count(LevelError, "Failed:") == 1 })
	time.Sleep(100 * time.Millisecond)

	if got := requests.Load(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if got := tracker.Retries(task); got != 0 {
		t.Errorf("Retries() = %d, want 0", got)
	}
	if got := task.ErrorMessage(); got != "HTTP Error 404: Not Found" {
		t.Errorf("ErrorMessage() = %q, want %q", got, "HTTP Error 404: Not Found")
	}
}

func TestTracker_PauseEvent(t *testing.T) {
	g := newGate()
	slow, _ := slowServer(t, g)
	settings := testSettings(nil)
	m := NewManager(settings)
	log := &eventLog{}
	startTracker(t, m, settings, log)

	task := newTestTask(t, testEpisode(t.TempDir(), slow.URL+"/ep.mp3", "Episode"), TaskConfig{Settings: settings})
	m.AddTask(task, false)
	waitFor(t, 5*time.Second, "downloading event", func() bool { return log.count(LevelInfo, "Downloading:") == 1 })

	task.Pause()
	waitFor(t, 5*time.Second, "paused event", func() bool { return log.count(LevelInfo, "Paused:") == 1 })
}

func TestRetryDelay(t *testing.T) {
	s := config.Settings{DownloadRetryCooldown: 0.5, DownloadRetryExponent: 4}
	tests := []struct {
		tries int
		want  time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, 2 * time.Second},
		{2, 8 * time.Second},
		{3, 32 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.tries), func(t *testing.T) {
			if got := retryDelay(s, tt.tries); got != tt.want {
				t.Errorf("retryDelay(%d) = %v, want %v", tt.tries, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"server error", &dlhttp.HTTPError{Code: 503}, true},
		{"timeout", &dlhttp.HTTPError{Code: 408}, true},
		{"rate limited", &dlhttp.HTTPError{Code: 429}, true},
		{"not found", &dlhttp.HTTPError{Code: 404}, false},
		{"forbidden wrapped", fmt.Errorf("fetch: %w", &dlhttp.HTTPError{Code: 403}), false},
		{"authentication", dlhttp.ErrAuthentication, false},
		{"too short", &dlhttp.ContentTooShortError{Expected: 10, Actual: 5}, true},
		{"other", errors.New("connection reset"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryable(tt.err); got != tt.want {
				t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
