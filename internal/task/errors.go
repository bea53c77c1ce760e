package task

import (
	"errors"
	"fmt"
)

var (
	ErrNoPaths          = errors.New("no paths provided")
	ErrTaskNotFound     = errors.New("task not found")
	ErrNotInFlight      = errors.New("task is not in flight")
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrAlreadyRunning   = errors.New("scheduler already running")
	ErrExtNotAllowed    = errors.New("extension not allowed")
)

func NewErrExtNotAllowed(ext string) error { return fmt.Errorf("%w: %s", ErrExtNotAllowed, ext) }

// Messages recorded on tasks that failed without a remote-supplied reason.
const (
	msgFormatError   = "response format error"
	msgDataError     = "response data error"
	msgDownloadError = "download error"
	msgExecuteError  = "execute error"
	msgNoCredentials = "no api key available"
	msgCanceled      = "canceled"
	msgTimedOut      = "timed out"
)
