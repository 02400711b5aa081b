package download

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/http"
)

// DefaultPollInterval is how often a Tracker inspects the tasks.
const DefaultPollInterval = 500 * time.Millisecond

// Tracker is the single observer of task status changes. It turns them
// into ProgressEvents and re-queues failed tasks with exponential backoff.
type Tracker struct {
	manager  *Manager
	settings config.Source
	onEvent  func(ProgressEvent)
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	retries map[*Task]int
	timers  map[*Task]*time.Timer
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithPollInterval sets the polling period of Run.
func WithPollInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithTrackerLogger sets the tracker logger.
func WithTrackerLogger(logger zerolog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// NewTracker creates a tracker for the tasks of manager.
func NewTracker(manager *Manager, settings config.Source, onEvent func(ProgressEvent), opts ...TrackerOption) *Tracker {
	t := &Tracker{
		manager:  manager,
		settings: settings,
		onEvent:  onEvent,
		interval: DefaultPollInterval,
		logger:   zerolog.Nop(),
		retries:  make(map[*Task]int),
		timers:   make(map[*Task]*time.Timer),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run polls until ctx is done. Pending retries are stopped on return.
func (t *Tracker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	defer t.stopRetries()

	for {
		select {
		case <-ctx.Done():
			t.Poll(ctx)
			return ctx.Err()
		case <-ticker.C:
			t.Poll(ctx)
		}
	}
}

// Poll inspects every task once.
func (t *Tracker) Poll(ctx context.Context) {
	for _, task := range t.manager.Tasks() {
		if !task.StatusChanged() {
			continue
		}

		status := task.Status()
		switch status {
		case StatusDownloading:
			t.emit(task, LevelInfo, "Downloading: %s", task)
		case StatusPaused:
			t.emit(task, LevelInfo, "Paused: %s", task)
		case StatusCancelled:
			t.forget(task)
			t.emit(task, LevelWarning, "Cancelled: %s", task)
		case StatusQueued:
			t.emit(task, LevelVerbose, "Queued: %s", task)
		}

		if task.NotifyAsFinished() {
			t.forget(task)
			t.emit(task, LevelSuccess, "Downloaded: %s", filepath.Base(task.Filename()))
		}
		if task.NotifyAsFailed() {
			t.emit(task, LevelError, "Failed: %s: %s", task, task.ErrorMessage())
			t.scheduleRetry(ctx, task)
		}
	}
}

// Retries returns how many times task has been re-queued after a failure.
func (t *Tracker) Retries(task *Task) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries[task]
}

// Scheduled returns the number of retries waiting for their delay to pass.
func (t *Tracker) Scheduled() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

func (t *Tracker) scheduleRetry(ctx context.Context, task *Task) {
	if !retryable(task.Err()) {
		return
	}

	s := t.settings.Snapshot()

	t.mu.Lock()
	tries := t.retries[task]
	if tries >= s.DownloadMaxRetries {
		t.mu.Unlock()
		return
	}
	t.retries[task] = tries + 1

	delay := retryDelay(s, tries)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		// The timer stays registered until the task is queued again, so
		// Scheduled never reports a gap between the two.
		defer func() {
			t.mu.Lock()
			if t.timers[task] == timer {
				delete(t.timers, task)
			}
			t.mu.Unlock()
		}()

		if ctx.Err() != nil || task.Status() != StatusFailed {
			return
		}
		if err := t.manager.AddTask(task, false); err != nil {
			t.logger.Warn().Err(err).Str("task", task.ID()).Msg("Cannot re-queue failed task")
		}
	})
	t.timers[task] = timer
	t.mu.Unlock()

	t.logger.Debug().Str("task", task.ID()).Int("attempt", tries+1).Dur("delay", delay).Msg("Scheduling retry")
	t.emit(task, LevelWarning, "Retry %d/%d for %s in %s", tries+1, s.DownloadMaxRetries, task, delay.Round(time.Millisecond))
}

func (t *Tracker) forget(task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.retries, task)
	if timer, ok := t.timers[task]; ok {
		timer.Stop()
		delete(t.timers, task)
	}
}

func (t *Tracker) stopRetries() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for task, timer := range t.timers {
		timer.Stop()
		delete(t.timers, task)
	}
}

func (t *Tracker) emit(task *Task, level ProgressLevel, format string, args ...any) {
	if t.onEvent != nil {
		t.onEvent(ProgressEvent{Message: fmt.Sprintf(format, args...), Level: level, Task: task})
	}
}

// retryDelay is cooldown * exponent^tries seconds.
func retryDelay(s config.Settings, tries int) time.Duration {
	cooldown := s.DownloadRetryCooldown * math.Pow(s.DownloadRetryExponent, float64(tries))
	return time.Duration(cooldown * float64(time.Second))
}

// retryable reports whether a failure may go away by itself. Client
// errors and rejected credentials will not.
func retryable(err error) bool {
	if err == nil || errors.Is(err, http.ErrAuthentication) {
		return false
	}
	var httpErr *http.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code >= 500 || httpErr.Code == 408 || httpErr.Code == 429
	}
	return true
}
