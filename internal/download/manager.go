package download

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/model"
)

// Manager is the download queue. It owns a pending queue of tasks and a
// pool of workers that grows on demand up to the configured ceiling.
//
// Normal submissions are served in order. A forced submission is served
// next and always gets a worker, even when the pool is full.
//
// Lowering the ceiling does not stop running downloads: workers above the
// ceiling finish their current task and then leave the pool.
type Manager struct {
	settings config.Source
	store    EpisodeStore
	logger   zerolog.Logger
	onEvent  func(ProgressEvent)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []*Task
	workers  map[*worker]struct{}
	idle     chan struct{}
	tasks    []*Task
	workerID int

	// held are the tasks a worker has taken from pending. A task is never
	// in pending and held at once; submissions of a held task are parked
	// in deferred (value: forceStart) until the worker lets go of it.
	held     map[*Task]struct{}
	deferred map[*Task]bool
}

type worker struct {
	id int

	// minimum is the number of tasks this worker takes regardless of the ceiling.
	minimum int

	// busy is set while the worker holds a task. Guarded by Manager.mu.
	busy bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the store used to reload episodes of re-submitted tasks.
func WithStore(store EpisodeStore) ManagerOption {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogger sets the logger for queue diagnostics.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithEvents sets the callback receiving queue events.
func WithEvents(onEvent func(ProgressEvent)) ManagerOption {
	return func(m *Manager) {
		m.onEvent = onEvent
	}
}

// NewManager creates an empty queue. Settings are read on every
// admission decision, so changes to a config.Live take effect without
// restarting anything.
func NewManager(settings config.Source, opts ...ManagerOption) *Manager {
	idle := make(chan struct{})
	close(idle)

	m := &Manager{
		settings: settings,
		logger:   zerolog.Nop(),
		workers:  make(map[*worker]struct{}),
		idle:     idle,
		held:     make(map[*Task]struct{}),
		deferred: make(map[*Task]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// AddTask queues task and starts a worker if the pool allows it.
//
// A task that is not new is treated as a re-submission: its episode is
// reloaded from the store and any queued occurrence is removed first, so
// no two workers ever run the same task.
//
// A task still held by a worker is not queued right away. If it is about
// to run or running the call has no effect; otherwise (paused, failed or
// cancelled but still winding down) it is queued again once the worker
// is done with it.
//
// With forceStart the task is served next and a worker is started for it
// even if the pool is at its ceiling.
func (m *Manager) AddTask(task *Task, forceStart bool) error {
	m.mu.Lock()
	if _, ok := m.held[task]; ok {
		if s := task.Status(); s != StatusQueued && s != StatusDownloading {
			m.deferred[task] = m.deferred[task] || forceStart
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if task.Status() != StatusInit && m.store != nil {
		episode, err := m.store.Load(m.ctx, task.Episode().ID)
		switch {
		case err == nil:
			task.setEpisode(episode)
		case errors.Is(err, model.ErrEpisodeNotFound):
			m.logger.Debug().Str("task", task.ID()).Msg("Episode not in store, keeping current state")
		default:
			return fmt.Errorf("reload episode: %w", err)
		}
	}

	m.mu.Lock()
	if _, ok := m.held[task]; ok {
		// Taken by a worker while the episode was reloaded.
		m.deferred[task] = m.deferred[task] || forceStart
		m.mu.Unlock()
		return nil
	}
	m.pending = slices.DeleteFunc(m.pending, func(t *Task) bool { return t == task })
	task.setStatus(StatusQueued)
	if forceStart {
		m.pending = slices.Insert(m.pending, 0, task)
	} else {
		m.pending = append(m.pending, task)
	}
	if !slices.Contains(m.tasks, task) {
		m.tasks = append(m.tasks, task)
	}
	m.mu.Unlock()

	m.emit(ProgressEvent{Message: fmt.Sprintf("Queued: %s", task), Level: LevelVerbose, Task: task})
	m.spawnWorkers(forceStart)
	return nil
}

// Remove drops task from the queue and the registry and lets it clean
// up its partial file. A running transfer is cancelled.
func (m *Manager) Remove(task *Task) {
	m.mu.Lock()
	m.pending = slices.DeleteFunc(m.pending, func(t *Task) bool { return t == task })
	m.tasks = slices.DeleteFunc(m.tasks, func(t *Task) bool { return t == task })
	delete(m.deferred, task)
	m.mu.Unlock()

	if task.IsRunning() {
		task.Cancel()
		return
	}
	task.RemovedFromList()
}

// SettingsChanged starts workers for pending tasks after the ceiling was
// raised or disabled. Lowering it needs no call; workers check it
// before every task.
func (m *Manager) SettingsChanged() {
	for m.spawnWorkers(false) {
	}
}

// HasActiveWorkers reports whether any worker is alive.
func (m *Manager) HasActiveWorkers() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers) > 0
}

// Pending returns the number of tasks waiting for a worker.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Tasks returns every task added and not removed, in submission order.
func (m *Manager) Tasks() []*Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tasks)
}

// Wait blocks until no worker is alive or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	m.mu.Lock()
	idle := m.idle
	m.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown pauses running transfers, keeping their partial files, and
// waits for the workers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, task := range m.pending {
		task.Pause()
	}
	m.pending = nil
	m.mu.Unlock()

	m.cancel()
	return m.Wait(ctx)
}

// spawnWorkers starts at most one worker when there is pending work and
// the pool admits it. It reports whether a worker was started.
func (m *Manager) spawnWorkers(forceStart bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.pending) == 0 {
		return false
	}
	if !forceStart {
		if len(m.workers) >= len(m.pending)+m.busyWorkers() {
			return false
		}
		s := m.settings.Snapshot()
		if len(m.workers) > 0 && s.MaxDownloadsEnabled && len(m.workers) >= s.MaxDownloads {
			return false
		}
	}

	m.workerID++
	w := &worker{id: m.workerID}
	if forceStart {
		w.minimum = 1
	}
	if len(m.workers) == 0 {
		m.idle = make(chan struct{})
	}
	m.workers[w] = struct{}{}
	m.logger.Debug().Int("worker", w.id).Int("workers", len(m.workers)).Bool("forced", forceStart).Msg("Starting worker")

	go m.work(w)
	return true
}

// busyWorkers returns the number of workers holding a task.
// Callers hold m.mu.
func (m *Manager) busyWorkers() int {
	busy := 0
	for w := range m.workers {
		if w.busy {
			busy++
		}
	}
	return busy
}

func (m *Manager) work(w *worker) {
	log := m.logger.With().Int("worker", w.id).Logger()
	for {
		task, ok := m.next(w)
		if !ok {
			log.Debug().Msg("Worker exiting")
			return
		}
		log.Debug().Str("task", task.ID()).Msg("Running task")
		task.Run(m.ctx)
		m.release(task)
	}
}

// release hands task back after its run and queues it again if it was
// submitted in the meantime.
func (m *Manager) release(task *Task) {
	m.mu.Lock()
	delete(m.held, task)
	forceStart, again := m.deferred[task]
	delete(m.deferred, task)
	if m.ctx.Err() != nil || !slices.Contains(m.tasks, task) {
		again = false
	}
	m.mu.Unlock()

	if !again {
		return
	}
	if err := m.AddTask(task, forceStart); err != nil {
		m.logger.Warn().Err(err).Str("task", task.ID()).Msg("Cannot re-queue task")
	}
}

// next hands the worker its next task, or deregisters the worker when the
// queue is empty or the pool is above its ceiling. Both happen under the
// same lock so a task added concurrently always finds a worker.
func (m *Manager) next(w *worker) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w.busy = false
	if w.minimum > 0 {
		w.minimum--
	} else if m.ctx.Err() != nil || !m.mayContinue() {
		m.removeWorker(w)
		return nil, false
	}

	if len(m.pending) == 0 {
		m.removeWorker(w)
		return nil, false
	}

	task := m.pending[0]
	m.pending = m.pending[1:]
	m.held[task] = struct{}{}
	w.busy = true
	return task, true
}

// mayContinue is the ceiling check. Callers hold m.mu.
func (m *Manager) mayContinue() bool {
	s := m.settings.Snapshot()
	return !s.MaxDownloadsEnabled || len(m.workers) <= s.MaxDownloads
}

// removeWorker deregisters w. Callers hold m.mu.
func (m *Manager) removeWorker(w *worker) {
	if _, ok := m.workers[w]; !ok {
		return
	}
	delete(m.workers, w)
	if len(m.workers) == 0 {
		close(m.idle)
	}
}

func (m *Manager) emit(event ProgressEvent) {
	if m.onEvent != nil {
		m.onEvent(event)
	}
}
