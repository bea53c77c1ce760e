package task

import "fmt"

func (s Status) String() string { return string(s) }

// Terminal reports whether the status ends a task attempt.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError || s == StatusCredentials
}

// InFlight reports whether the task holds network work in progress.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusProcessing || s == StatusDownloading
}

func (s Status) validateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("invalid task status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the task lifecycle. Self transitions are the
// progress re-emits of the two transfer phases.
func (s Status) isValidTransition(target Status) bool {
	switch s {
	case StatusQueued:
		return target == StatusPreparing
	case StatusPreparing:
		// Local read failures end the task before any upload starts.
		return target == StatusUploading || target == StatusError
	case StatusUploading:
		return target == StatusUploading || target == StatusProcessing ||
			target == StatusError || target == StatusCredentials
	case StatusProcessing:
		return target == StatusDownloading || target == StatusError || target == StatusCredentials
	case StatusDownloading:
		return target == StatusDownloading || target == StatusFinished || target == StatusError
	case StatusCredentials:
		// Only taken when requeueing after a quota rejection.
		return target == StatusQueued
	case StatusFinished, StatusError:
		return false
	default:
		return false
	}
}
