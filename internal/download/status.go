package download

// Status is the lifecycle state of a Task.
//
//	Init -> Queued -> Downloading -> Done | Failed | Cancelled
//	Downloading <-> Paused, Paused -> Queued | Cancelled
//	Failed | Cancelled | Paused -> Queued (retry)
type Status int32

const (
	StatusInit Status = iota
	StatusQueued
	StatusDownloading
	StatusDone
	StatusFailed
	StatusCancelled
	StatusPaused
)

var statusNames = [...]string{
	StatusInit:        "Added",
	StatusQueued:      "Queued",
	StatusDownloading: "Downloading",
	StatusDone:        "Finished",
	StatusFailed:      "Failed",
	StatusCancelled:   "Cancelled",
	StatusPaused:      "Paused",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// Terminal reports whether no further work happens without a re-submission.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}
