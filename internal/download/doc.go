// Package download provides the download engine: tasks, the queue that
// runs them and a tracker that observes them.
//
// # Task
//
// A Task downloads one episode into "<filename>.partial" and moves it to
// its final name when complete:
//
//	Init -> Queued -> Downloading -> Done | Failed | Cancelled
//
// Pausing keeps the partial file so the next run resumes with a Range
// request; cancelling deletes it. Observers poll Status, Progress, Speed
// and ErrorMessage from any goroutine. StatusChanged, NotifyAsFinished and
// NotifyAsFailed report each event to exactly one caller.
//
// # Manager
//
// The Manager queues tasks and runs them on a pool of workers bounded by
// settings.MaxDownloads:
//
//	manager := download.NewManager(live, download.WithStore(store))
//	task, err := download.NewTask(episode, download.TaskConfig{Client: client, Settings: live})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	manager.AddTask(task, false)
//	manager.Wait(ctx)
//
// A task added with forceStart is served next and gets its own worker even
// when the pool is full.
//
// # Progress Tracking
//
// The Tracker polls all tasks and reports changes through ProgressEvent:
//
//	type ProgressEvent struct {
//	    Message string
//	    Level   ProgressLevel // Info, Verbose, Warning, Error, Success
//	    Task    *Task
//	}
//
// # Retry Logic
//
// Failed downloads are re-queued by the Tracker with exponential backoff,
// configurable via settings.DownloadMaxRetries, DownloadRetryCooldown and
// DownloadRetryExponent. Client errors (4xx) and rejected credentials are
// not retried.
package download
