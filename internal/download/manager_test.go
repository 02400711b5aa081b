package download

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/handiism/podcast-downloader/internal/config"
)

type countingWriter struct {
	http.ResponseWriter
	n *atomic.Int64
}

func (w countingWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.n.Add(int64(n))
	return n, err
}

func countStatus(tasks []*Task, status Status) int {
	n := 0
	for _, task := range tasks {
		if task.Status() == status {
			n++
		}
	}
	return n
}

func TestManager_ConcurrencyCeiling(t *testing.T) {
	g := newGate()
	slow, peak := slowServer(t, g)
	fast := contentServer(t, testPayload(2000), nil)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 2
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	dir := t.TempDir()

	var tasks []*Task
	var maxDownloading atomic.Int32
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := int32(countStatus(m.Tasks(), StatusDownloading)); n > maxDownloading.Load() {
				maxDownloading.Store(n)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	for i := 0; i < 5; i++ {
		task := newTestTask(t, testEpisode(dir, fmt.Sprintf("%s/slow%d.mp3", slow.URL, i), fmt.Sprintf("Slow %d", i)), TaskConfig{Settings: settings})
		tasks = append(tasks, task)
		if err := m.AddTask(task, false); err != nil {
			t.Fatalf("AddTask() error = %v", err)
		}
	}

	waitFor(t, 5*time.Second, "two downloads", func() bool { return countStatus(tasks, StatusDownloading) == 2 })
	if got := m.Pending(); got != 3 {
		t.Errorf("Pending() = %d, want 3", got)
	}

	forced := newTestTask(t, testEpisode(dir, fast.URL+"/fast.mp3", "Forced"), TaskConfig{Settings: settings})
	if err := m.AddTask(forced, true); err != nil {
		t.Fatalf("AddTask(force) error = %v", err)
	}
	waitFor(t, 5*time.Second, "forced download", func() bool { return forced.Status() == StatusDone })

	if got := countStatus(tasks, StatusQueued); got != 3 {
		t.Errorf("queued tasks after forced start = %d, want 3", got)
	}

	g.open()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	close(stop)
	<-sampled

	for _, task := range tasks {
		if task.Status() != StatusDone {
			t.Errorf("%s status = %v, want %v", task, task.Status(), StatusDone)
		}
	}
	if got := maxDownloading.Load(); got > 2 {
		t.Errorf("max concurrent slow downloads (observed) = %d, want <= 2", got)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("max concurrent slow transfers (server) = %d, want <= 2", got)
	}
	if m.HasActiveWorkers() {
		t.Error("HasActiveWorkers() = true after Wait")
	}
}

func TestManager_RaiseCeilingLive(t *testing.T) {
	g := newGate()
	slow, peak := slowServer(t, g)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	dir := t.TempDir()

	var tasks []*Task
	for i := 0; i < 3; i++ {
		task := newTestTask(t, testEpisode(dir, fmt.Sprintf("%s/ep%d.mp3", slow.URL, i), fmt.Sprintf("Ep %d", i)), TaskConfig{Settings: settings})
		tasks = append(tasks, task)
		m.AddTask(task, false)
	}
	waitFor(t, 5*time.Second, "first download", func() bool { return countStatus(tasks, StatusDownloading) == 1 })

	settings.Update(func(s *config.Settings) { s.MaxDownloads = 3 })
	m.SettingsChanged()
	waitFor(t, 5*time.Second, "three downloads", func() bool { return countStatus(tasks, StatusDownloading) == 3 })

	g.open()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := peak.Load(); got != 3 {
		t.Errorf("peak concurrent transfers = %d, want 3", got)
	}
}

func TestManager_FIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	dir := t.TempDir()

	g := newGate()
	blocker, _ := slowServer(t, g)
	first := newTestTask(t, testEpisode(dir, blocker.URL+"/first.mp3", "First"), TaskConfig{Settings: settings})
	m.AddTask(first, false)
	waitFor(t, 5*time.Second, "first download", func() bool { return first.Status() == StatusDownloading })

	for _, name := range []string{"a", "b", "c"} {
		m.AddTask(newTestTask(t, testEpisode(dir, srv.URL+"/"+name+".mp3", name), TaskConfig{Settings: settings}), false)
	}
	g.open()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"/a.mp3", "/b.mp3", "/c.mp3"}
	if !slices.Equal(order, want) {
		t.Errorf("download order = %v, want %v", order, want)
	}
}

func TestManager_ResubmissionDeduplicates(t *testing.T) {
	g := newGate()
	slow, _ := slowServer(t, g)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	store := newFakeStore()
	m := NewManager(settings, WithStore(store))
	dir := t.TempDir()

	first := newTestTask(t, testEpisode(dir, slow.URL+"/first.mp3", "First"), TaskConfig{Settings: settings})
	m.AddTask(first, false)
	waitFor(t, 5*time.Second, "first download", func() bool { return first.Status() == StatusDownloading })

	episode := testEpisode(dir, slow.URL+"/second.mp3", "Second")
	second := newTestTask(t, episode, TaskConfig{Settings: settings})
	reloaded := episode.Clone()
	reloaded.Description = "reloaded from store"
	store.Save(context.Background(), reloaded)

	m.AddTask(second, false)
	m.AddTask(second, false)

	if got := m.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
	if got := len(m.Tasks()); got != 2 {
		t.Errorf("len(Tasks()) = %d, want 2", got)
	}
	if got := second.Episode().Description; got != "reloaded from store" {
		t.Errorf("Description = %q, want episode reloaded from store", got)
	}

	g.open()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.Wait(ctx)
}

func TestManager_ResubmitWhileHeld(t *testing.T) {
	g := newGate()
	slow, _ := slowServer(t, g)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	task := newTestTask(t, testEpisode(t.TempDir(), slow.URL+"/ep.mp3", "Pilot"), TaskConfig{Settings: settings})

	m.AddTask(task, false)
	waitFor(t, 5*time.Second, "download", func() bool { return task.Status() == StatusDownloading })

	// Still downloading: nothing to do.
	if err := m.AddTask(task, false); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if got := m.Pending(); got != 0 {
		t.Errorf("Pending() = %d while downloading, want 0", got)
	}

	// Paused but the worker has not let go yet: queued only afterwards.
	task.Pause()
	if err := m.AddTask(task, false); err != nil {
		t.Fatalf("AddTask() error = %v", err)
	}
	if got := m.Pending(); got != 0 {
		t.Errorf("Pending() = %d while held, want 0", got)
	}

	g.open()
	waitFor(t, 5*time.Second, "resubmitted download", func() bool { return task.Status() == StatusDone })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := m.Pending(); got != 0 {
		t.Errorf("Pending() = %d, want 0", got)
	}
}

func TestManager_Remove(t *testing.T) {
	g := newGate()
	slow, _ := slowServer(t, g)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	dir := t.TempDir()

	running := newTestTask(t, testEpisode(dir, slow.URL+"/a.mp3", "Running"), TaskConfig{Settings: settings})
	queued := newTestTask(t, testEpisode(dir, slow.URL+"/b.mp3", "Queued"), TaskConfig{Settings: settings})
	m.AddTask(running, false)
	m.AddTask(queued, false)
	waitFor(t, 5*time.Second, "download", func() bool { return running.Status() == StatusDownloading })

	m.Remove(queued)
	if _, err := os.Stat(queued.TempFilename()); !os.IsNotExist(err) {
		t.Error("partial file of removed task still exists")
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}

	m.Remove(running)
	g.open()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m.Wait(ctx)

	if running.Status() != StatusCancelled {
		t.Errorf("Status() = %v, want %v", running.Status(), StatusCancelled)
	}
	if _, err := os.Stat(running.TempFilename()); !os.IsNotExist(err) {
		t.Error("partial file of removed running task still exists")
	}
	if len(m.Tasks()) != 0 {
		t.Errorf("len(Tasks()) = %d, want 0", len(m.Tasks()))
	}
}

// TestManager_PauseResume downloads a 10 MiB file, pauses it after about
// 4 MiB and resumes it. The resumed session must only transfer the rest.
func TestManager_PauseResume(t *testing.T) {
	const (
		size      = 10 << 20
		pauseAt   = 4 << 20
		trickle   = 8 << 10
		tolerance = 1 << 20
	)
	data := testPayload(size)

	var wire atomic.Int64
	var rangeHeader atomic.Value
	resume := newGate()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cw := countingWriter{ResponseWriter: w, n: &wire}
		if rng := r.Header.Get("Range"); rng != "" {
			rangeHeader.Store(rng)
			http.ServeContent(cw, r, "", time.Time{}, bytes.NewReader(data))
			return
		}

		w.Header().Set("Content-Length", fmt.Sprint(size))
		if _, err := cw.Write(data[:pauseAt]); err != nil {
			return
		}
		w.(http.Flusher).Flush()

		select {
		case <-resume.ch:
		case <-r.Context().Done():
			return
		}
		for off := pauseAt; off < size; off += trickle {
			if _, err := cw.Write(data[off:min(off+trickle, size)]); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			time.Sleep(time.Millisecond)
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(resume.open)

	settings := testSettings(nil)
	m := NewManager(settings)
	task := newTestTask(t, testEpisode(t.TempDir(), srv.URL+"/big.mp3", "Big"), TaskConfig{Settings: settings})

	var badProgress atomic.Bool
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			p := task.Progress()
			if p < 0 || (p >= 1 && task.Status() != StatusDone) {
				badProgress.Store(true)
			}
			time.Sleep(time.Millisecond)
		}
	}()

	m.AddTask(task, false)
	waitFor(t, 10*time.Second, "4 MiB downloaded", func() bool { return task.Progress() >= 0.39 })
	task.Pause()
	resume.open()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if task.Status() != StatusPaused {
		t.Fatalf("Status() = %v, want %v", task.Status(), StatusPaused)
	}
	info, err := os.Stat(task.TempFilename())
	if err != nil {
		t.Fatalf("partial file missing after pause: %v", err)
	}
	partial := info.Size()
	if partial < pauseAt-trickle*5 || partial >= size {
		t.Errorf("partial size = %d, want about %d", partial, pauseAt)
	}

	if err := m.AddTask(task, false); err != nil {
		t.Fatalf("AddTask(resume) error = %v", err)
	}
	if err := m.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	close(stop)
	<-sampled

	if task.Status() != StatusDone {
		t.Fatalf("Status() = %v, want %v (%s)", task.Status(), StatusDone, task.ErrorMessage())
	}
	if got, want := rangeHeader.Load(), fmt.Sprintf("bytes=%d-", partial); got != want {
		t.Errorf("Range header = %v, want %q", got, want)
	}
	final, err := os.ReadFile(task.Filename())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(final, data) {
		t.Errorf("final file: %d bytes, want identical %d bytes", len(final), size)
	}
	if got := wire.Load(); got > size+tolerance {
		t.Errorf("bytes over the wire = %d, want about %d", got, size)
	}
	if badProgress.Load() {
		t.Error("progress left [0, 1) before the task was Done")
	}
}

func TestManager_Shutdown(t *testing.T) {
	g := newGate()
	slow, _ := slowServer(t, g)

	settings := testSettings(func(s *config.Settings) {
		s.MaxDownloads = 1
		s.MaxDownloadsEnabled = true
	})
	m := NewManager(settings)
	dir := t.TempDir()

	running := newTestTask(t, testEpisode(dir, slow.URL+"/a.mp3", "A"), TaskConfig{Settings: settings})
	queued := newTestTask(t, testEpisode(dir, slow.URL+"/b.mp3", "B"), TaskConfig{Settings: settings})
	m.AddTask(running, false)
	m.AddTask(queued, false)
	waitFor(t, 5*time.Second, "download", func() bool { return running.Status() == StatusDownloading })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	for _, task := range []*Task{running, queued} {
		if task.Status() != StatusPaused {
			t.Errorf("%s status = %v, want %v", task, task.Status(), StatusPaused)
		}
		if _, err := os.Stat(task.TempFilename()); err != nil {
			t.Errorf("%s partial file missing: %v", task, err)
		}
	}
}
