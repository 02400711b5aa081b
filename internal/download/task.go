package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/http"
	ioutils "github.com/handiism/podcast-downloader/internal/io"
	"github.com/handiism/podcast-downloader/internal/model"
	"github.com/handiism/podcast-downloader/internal/throttle"
)

// PartialSuffix is appended to the final filename while a download is in progress.
const PartialSuffix = ".partial"

// maxPartialProgress keeps progress below 1.0 until the task is Done.
const maxPartialProgress = 0.999

var errNoSpace = errors.New("not enough free space")

// TaskConfig holds the collaborators of a Task. Zero values get defaults.
type TaskConfig struct {
	// Client performs the transfer. Defaults to http.NewClient().
	Client *http.Client

	// Settings is consulted at every decision point. Defaults to DefaultSettings.
	Settings config.Source

	// Store receives the episode after reconciliation and completion. Optional.
	Store EpisodeStore

	// Resolver maps the episode to the fetched URL. Defaults to Passthrough.
	Resolver Resolver

	// Hooks run after the file has been moved into place.
	Hooks []PostDownloadHook

	Logger *zerolog.Logger

	// FreeSpace reports the free bytes for a directory. Defaults to ioutils.FreeSpace.
	FreeSpace func(path string) (uint64, error)
}

// Task is the download of a single episode.
//
// A Task is run by at most one worker at a time. All observable fields are
// safe to read from other goroutines while it runs.
type Task struct {
	id           string
	tempFilename string

	client    *http.Client
	settings  config.Source
	store     EpisodeStore
	resolver  Resolver
	hooks     []PostDownloadHook
	freeSpace func(string) (uint64, error)
	logger    zerolog.Logger

	status        atomic.Int32
	statusChanged atomic.Bool
	progress      atomic.Uint64
	speed         atomic.Uint64
	totalSize     atomic.Int64
	notified      atomic.Bool
	running       atomic.Bool

	mu       sync.Mutex
	episode  *model.Episode
	filename string
	errMsg   string
	err      error

	limiter throttle.Limiter
}

// NewTask creates a task for episode in the Init state.
//
// The download directory is created and the partial file is touched so
// it exists for as long as the task is not finished. An existing partial
// file is kept and its size seeds the initial progress.
func NewTask(episode *model.Episode, cfg TaskConfig) (*Task, error) {
	if episode == nil {
		return nil, errors.New("nil episode")
	}

	t := &Task{
		id:        uuid.New().String(),
		client:    cfg.Client,
		settings:  cfg.Settings,
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		hooks:     cfg.Hooks,
		freeSpace: cfg.FreeSpace,
		episode:   episode.Clone(),
	}
	if t.client == nil {
		t.client = http.NewClient()
	}
	if t.settings == nil {
		t.settings = config.Static(*config.DefaultSettings())
	}
	if t.resolver == nil {
		t.resolver = Passthrough
	}
	if t.freeSpace == nil {
		t.freeSpace = ioutils.FreeSpace
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	t.logger = logger.With().Str("task", t.id).Str("episode", t.episode.Title).Logger()

	t.filename = t.episode.LocalFilename("")
	t.tempFilename = t.filename + PartialSuffix
	t.totalSize.Store(t.episode.Size)

	if err := ioutils.EnsureDir(filepath.Dir(t.filename)); err != nil {
		return nil, fmt.Errorf("create download directory: %w", err)
	}
	if info, err := os.Stat(t.tempFilename); err == nil {
		if total := t.totalSize.Load(); total > 0 {
			t.setProgress(float64(info.Size()) / float64(total))
		}
	} else {
		f, err := os.OpenFile(t.tempFilename, os.O_WRONLY|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("create partial file: %w", err)
		}
		f.Close()
	}

	return t, nil
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

func (t *Task) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episode.Title
}

// Episode returns a copy of the episode being downloaded.
func (t *Task) Episode() *model.Episode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episode.Clone()
}

// URL returns the nominal media URL.
func (t *Task) URL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.episode.URL
}

// PodcastURL returns the feed URL of the episode's channel.
func (t *Task) PodcastURL() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.episode.Podcast == nil {
		return ""
	}
	return t.episode.Podcast.URL
}

// Filename returns the final destination path.
func (t *Task) Filename() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.filename
}

// TempFilename returns the path of the partial file.
func (t *Task) TempFilename() string { return t.tempFilename }

// Status returns the current status.
func (t *Task) Status() Status { return Status(t.status.Load()) }

// StatusChanged reports whether the status changed since the last call.
// Only one caller observes each change.
func (t *Task) StatusChanged() bool {
	return t.statusChanged.CompareAndSwap(true, false)
}

// Progress returns the completed fraction in [0, 1]. It is 1 only when Done.
func (t *Task) Progress() float64 {
	if t.Status() == StatusDone {
		return 1
	}
	return math.Float64frombits(t.progress.Load())
}

// Speed returns the current transfer speed in bytes per second.
func (t *Task) Speed() float64 {
	return math.Float64frombits(t.speed.Load())
}

// TotalSize returns the expected size in bytes, or 0 when unknown.
func (t *Task) TotalSize() int64 { return t.totalSize.Load() }

// ErrorMessage returns a human-readable reason for the last failure.
func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Err returns the error behind the last failure, if any.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// IsRunning reports whether a worker is currently inside Run.
func (t *Task) IsRunning() bool { return t.running.Load() }

// NotifyAsFinished returns true exactly once after the task became Done.
func (t *Task) NotifyAsFinished() bool {
	return t.Status() == StatusDone && t.notified.CompareAndSwap(false, true)
}

// NotifyAsFailed returns true exactly once after the task became Failed.
func (t *Task) NotifyAsFailed() bool {
	return t.Status() == StatusFailed && t.notified.CompareAndSwap(false, true)
}

// Pause asks a queued or downloading task to stop while keeping the
// partial file. A running transfer notices at its next progress check.
func (t *Task) Pause() bool {
	for {
		cur := t.Status()
		if cur != StatusQueued && cur != StatusDownloading {
			return false
		}
		if t.casStatus(cur, StatusPaused) {
			return true
		}
	}
}

// Cancel asks the task to stop and discards the partial file. When the
// task is not being transferred the file is removed right away.
func (t *Task) Cancel() bool {
	for {
		cur := t.Status()
		if cur == StatusDone || cur == StatusCancelled {
			return false
		}
		if t.casStatus(cur, StatusCancelled) {
			if !t.IsRunning() {
				t.discardPartial()
			}
			return true
		}
	}
}

// RemovedFromList must be called before a task is dropped from any
// collection. Unless the task is Done its partial file is deleted.
func (t *Task) RemovedFromList() {
	if t.Status() != StatusDone {
		t.removePartial()
	}
}

// Run downloads the episode. It returns true only when the task ends Done.
//
// Run does nothing unless the task is Queued, except that a task that was
// cancelled while waiting gets its partial file removed.
func (t *Task) Run(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		return false
	}
	defer func() {
		t.running.Store(false)
		// A Cancel that saw the task running left the partial file to us.
		if t.Status() == StatusCancelled {
			t.discardPartial()
		}
	}()

	t.limiter.Reset()

	switch t.Status() {
	case StatusCancelled:
		t.discardPartial()
		return false
	case StatusQueued:
	default:
		return false
	}

	if !t.casStatus(StatusQueued, StatusDownloading) {
		if t.Status() == StatusCancelled {
			t.discardPartial()
		}
		return false
	}
	t.notified.Store(false)
	t.setError(nil)

	t.logger.Debug().Msg("Download started")
	err := t.download(ctx)

	switch {
	case err == nil:
	case errors.Is(err, http.ErrCancelled) || ctx.Err() != nil:
		if ctx.Err() != nil {
			t.casStatus(StatusDownloading, StatusPaused)
		}
		t.logger.Debug().Str("status", t.Status().String()).Msg("Download stopped")
		if t.Status() == StatusCancelled {
			t.discardPartial()
		}
	default:
		t.logger.Error().Err(err).Msg("Download failed")
		t.setError(err)
		if !t.casStatus(StatusDownloading, StatusFailed) && t.Status() == StatusCancelled {
			t.discardPartial()
		}
	}

	if t.casStatus(StatusDownloading, StatusDone) {
		if t.totalSize.Load() <= 0 {
			t.totalSize.Store(ioutils.FileSize(t.Filename()))
			t.logger.Debug().Int64("size", t.totalSize.Load()).Msg("Total size updated")
		}
		t.setProgress(1)
		t.setSpeed(0)
		t.logger.Info().Str("file", t.Filename()).Msg("Download finished")
		return true
	}

	t.setSpeed(0)
	return false
}

func (t *Task) download(ctx context.Context) error {
	settings := t.settings.Snapshot()
	episode := t.Episode()

	if settings.CheckFreeSpace {
		if err := t.checkFreeSpace(); err != nil {
			return err
		}
	}

	url, err := t.resolver.Resolve(ctx, episode)
	if err != nil {
		return fmt.Errorf("resolve download URL: %w", err)
	}

	req := http.FetchRequest{
		URL:         url,
		Destination: t.tempFilename,
		Resume:      true,
	}
	if episode.Podcast.HasCredentials() {
		req.Username = episode.Podcast.Username
		req.Password = episode.Podcast.Password
	}

	result, err := t.client.Fetch(ctx, req, func(p http.Progress) bool {
		return t.onProgress(ctx, p)
	})
	if err != nil {
		return err
	}
	if t.Status() != StatusDownloading {
		return http.ErrCancelled
	}
	if result.FinalURL != url {
		t.logger.Debug().Str("final_url", result.FinalURL).Msg("Download was redirected")
	}

	t.reconcile(result.Header)
	if err := t.saveEpisode(ctx); err != nil {
		return err
	}

	filename := availablePath(t.Filename())
	if err := ioutils.MoveFile(ctx, t.tempFilename, filename); err != nil {
		return &http.IOError{Op: "move", Path: filename, Err: err}
	}

	t.mu.Lock()
	t.filename = filename
	t.episode.OnDownloaded(filename)
	t.mu.Unlock()
	if err := t.saveEpisode(ctx); err != nil {
		return err
	}

	t.runHooks(ctx, filename)
	return nil
}

// onProgress is the Fetch callback. It returns false when the transfer
// must stop because the task was paused or cancelled.
func (t *Task) onProgress(ctx context.Context, p http.Progress) bool {
	if p.Total > 0 && p.Total != t.totalSize.Load() {
		t.totalSize.Store(p.Total)
	}
	if total := t.totalSize.Load(); total > 0 {
		t.setProgress(float64(p.Read) / float64(total))
	}

	settings := t.settings.Snapshot()
	sample := t.limiter.Observe(p.Chunks, p.ChunkSize, time.Now(), throttle.Limits{
		Enabled:        settings.LimitRate,
		BytesPerSecond: settings.LimitBytesPerSecond(),
	})
	if sample.Measured {
		t.setSpeed(sample.Speed)
	}
	if sample.Delay > 0 {
		if err := throttle.Sleep(ctx, sample.Delay); err != nil {
			return false
		}
	}

	return t.Status() == StatusDownloading
}

func (t *Task) checkFreeSpace() error {
	total := t.totalSize.Load()
	if total <= 0 {
		return nil
	}
	remaining := total - ioutils.FileSize(t.tempFilename)
	dir := filepath.Dir(t.tempFilename)

	free, err := t.freeSpace(dir)
	if err != nil {
		t.logger.Warn().Err(err).Str("dir", dir).Msg("Cannot determine free space")
		return nil
	}
	if remaining > 0 && uint64(remaining) > free {
		return &http.IOError{Op: "check free space", Path: dir, Err: errNoSpace}
	}
	return nil
}

func (t *Task) saveEpisode(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	if err := t.store.Save(ctx, t.Episode()); err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	return nil
}

func (t *Task) runHooks(ctx context.Context, filename string) {
	episode := t.Episode()
	for _, hook := range t.hooks {
		if err := hook.OnEpisodeDownloaded(ctx, episode, filename); err != nil {
			t.logger.Warn().Err(err).Str("file", filename).Msg("Post-download hook failed")
		}
	}
}

// setEpisode replaces the episode with a fresh copy from the store.
func (t *Task) setEpisode(episode *model.Episode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.episode = episode.Clone()
	if episode.Size > 0 {
		t.totalSize.Store(episode.Size)
	}
}

func (t *Task) setStatus(s Status) {
	if Status(t.status.Swap(int32(s))) != s {
		t.statusChanged.Store(true)
	}
}

func (t *Task) casStatus(from, to Status) bool {
	if !t.status.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	if from != to {
		t.statusChanged.Store(true)
	}
	return true
}

func (t *Task) setProgress(v float64) {
	v = max(0, min(maxPartialProgress, v))
	if t.Status() == StatusDone {
		v = 1
	}
	t.progress.Store(math.Float64bits(v))
}

func (t *Task) setSpeed(v float64) {
	t.speed.Store(math.Float64bits(v))
}

func (t *Task) setError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.err = err
	if err == nil {
		t.errMsg = ""
		return
	}
	t.errMsg = errorMessage(err)
}

func (t *Task) discardPartial() {
	t.removePartial()
	t.setProgress(0)
	t.setSpeed(0)
}

func (t *Task) removePartial() {
	if err := os.Remove(t.tempFilename); err != nil && !os.IsNotExist(err) {
		t.logger.Warn().Err(err).Str("file", t.tempFilename).Msg("Cannot remove partial file")
	}
}

// availablePath returns path, or path with a " (n)" suffix when a file
// already occupies it.
func availablePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, n, ext)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
