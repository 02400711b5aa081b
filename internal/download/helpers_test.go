package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/model"
)

func testSettings(mod func(*config.Settings)) *config.Live {
	s := config.DefaultSettings()
	s.CheckFreeSpace = false
	s.DownloadRetryCooldown = 0.01
	s.DownloadRetryExponent = 1
	if mod != nil {
		mod(s)
	}
	return config.NewLive(s)
}

func testEpisode(dir, url, title string) *model.Episode {
	return model.NewEpisode(&model.Podcast{Title: "Show"}, url, title, &model.PathConfig{
		DownloadsPath:  dir,
		FileNameFormat: "{title}",
	})
}

func newTestTask(t *testing.T, episode *model.Episode, cfg TaskConfig) *Task {
	t.Helper()
	if cfg.Settings == nil {
		cfg.Settings = testSettings(nil)
	}
	task, err := NewTask(episode, cfg)
	if err != nil {
		t.Fatalf("NewTask() error = %v", err)
	}
	return task
}

func testPayload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 239)
	}
	return data
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// contentServer serves data with Range support under any path.
func contentServer(t *testing.T, data []byte, header map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range header {
			w.Header().Set(k, v)
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// gate blocks handlers until opened.
type gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *gate { return &gate{ch: make(chan struct{})} }

func (g *gate) open() { g.once.Do(func() { close(g.ch) }) }

// slowServer sends a few bytes of a 1000 byte body, then blocks until the
// gate opens. It records the highest number of concurrent transfers.
func slowServer(t *testing.T, g *gate) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var active, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		data := testPayload(1000)
		w.Header().Set("Content-Length", "1000")
		w.Write(data[:10])
		w.(http.Flusher).Flush()

		select {
		case <-g.ch:
		case <-r.Context().Done():
			return
		}
		w.Write(data[10:])
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(g.open)
	return srv, &peak
}

type fakeStore struct {
	mu       sync.Mutex
	episodes map[string]*model.Episode
	saves    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{episodes: make(map[string]*model.Episode)}
}

func (s *fakeStore) Load(_ context.Context, id string) (*model.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.episodes[id]
	if !ok {
		return nil, model.ErrEpisodeNotFound
	}
	return ep.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, episode *model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	s.episodes[episode.ID] = episode.Clone()
	return nil
}

func (s *fakeStore) get(id string) *model.Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.episodes[id]
}
