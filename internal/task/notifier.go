package task

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tinybatch/internal/credential"
)

// Notifier receives a snapshot on every task status change. It is called
// from the scheduler loop and, for queued snapshots, from the goroutine
// calling Submit, so implementations must be safe for concurrent use and
// must not block.
type Notifier interface {
	TaskStatusChanged(snapshot Task)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(snapshot Task)

func (f NotifierFunc) TaskStatusChanged(snapshot Task) { f(snapshot) }

// Notifiers fans a change out to every member in order.
type Notifiers []Notifier

func (n Notifiers) TaskStatusChanged(snapshot Task) {
	for _, notifier := range n {
		if notifier != nil {
			notifier.TaskStatusChanged(snapshot)
		}
	}
}

// LogNotifier writes task changes to the global zerolog logger. Progress
// re-emits are logged at debug level only.
type LogNotifier struct{}

func (LogNotifier) TaskStatusChanged(snapshot Task) {
	var evt *zerolog.Event
	switch snapshot.Status {
	case StatusFinished:
		evt = log.Info()
		if snapshot.CompressionRatio != nil {
			evt = evt.Float64("ratio", *snapshot.CompressionRatio)
		}
		evt = evt.Str("output", snapshot.OutputPath)
	case StatusError:
		evt = log.Warn().Str("error", snapshot.ErrorMessage)
	case StatusCredentials:
		evt = log.Warn().Str("error", snapshot.ErrorMessage)
	case StatusUploading, StatusDownloading:
		evt = log.Debug().Float64("progress", snapshot.Progress)
	default:
		evt = log.Debug()
	}
	evt.
		Str("task_id", snapshot.ID).
		Str("file", snapshot.Name).
		Str("status", snapshot.Status.String()).
		Int("attempt", snapshot.Attempt).
		Msg("task status changed")
}

func logCredentialRevoked(key string, remaining, status int) {
	log.Warn().
		Str("credential", credential.Mask(key)).
		Int("remaining", remaining).
		Int("http_status", status).
		Msg("api key removed from pool: rejected by service")
}
