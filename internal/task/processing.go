package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"tinybatch/internal/credential"
	"tinybatch/internal/tinify"
)

// uploadShare is the part of overall progress covered by the upload phase;
// the download covers the rest.
const uploadShare = 0.5

type event interface {
	owner() *flight
}

type (
	startFailed struct {
		fl  *flight
		err error
	}
	uploadStarted struct {
		fl   *flight
		size int64
	}
	uploadProgress struct {
		fl       *flight
		fraction float64
	}
	uploadDone struct {
		fl   *flight
		resp *tinify.Response
		err  error
	}
	downloadProgress struct {
		fl       *flight
		fraction float64
	}
	downloadDone struct {
		fl  *flight
		err error
	}
	cancelRequest struct {
		id    string
		reply chan error
	}
)

func (e startFailed) owner() *flight      { return e.fl }
func (e uploadStarted) owner() *flight    { return e.fl }
func (e uploadProgress) owner() *flight   { return e.fl }
func (e uploadDone) owner() *flight       { return e.fl }
func (e downloadProgress) owner() *flight { return e.fl }
func (e downloadDone) owner() *flight     { return e.fl }
func (e cancelRequest) owner() *flight    { return nil }

// runUpload reads the origin file and uploads it. It runs outside the loop.
func (s *Scheduler) runUpload(fl *flight, path string) {
	defer s.workers.Done()

	data, err := s.reader.ReadFile(path)
	if err != nil {
		s.post(startFailed{fl: fl, err: err})
		return
	}
	s.post(uploadStarted{fl: fl, size: int64(len(data))})

	resp, err := s.transfer.Upload(fl.ctx, data, fl.credential, func(fraction float64) {
		s.post(uploadProgress{fl: fl, fraction: fraction})
	})
	s.post(uploadDone{fl: fl, resp: resp, err: err})
}

func (s *Scheduler) runDownload(fl *flight, url, dest string) {
	defer s.workers.Done()

	err := s.transfer.Download(fl.ctx, url, dest, func(fraction float64) {
		s.post(downloadProgress{fl: fl, fraction: fraction})
	})
	s.post(downloadDone{fl: fl, err: err})
}

func (s *Scheduler) handle(ev event) {
	if req, ok := ev.(cancelRequest); ok {
		req.reply <- s.cancel(req.id)
		return
	}

	fl := ev.owner()
	if current, ok := s.inflight[fl.task.ID]; !ok || current != fl {
		// late event from an attempt that already ended
		return
	}

	switch e := ev.(type) {
	case startFailed:
		s.fail(fl.task, fmt.Sprintf("%s: %v", msgExecuteError, e.err))
	case uploadStarted:
		s.onUploadStarted(fl, e.size)
	case uploadProgress:
		s.onUploadProgress(fl, e.fraction)
	case uploadDone:
		s.onUploadDone(fl, e.resp, e.err)
	case downloadProgress:
		s.onDownloadProgress(fl, e.fraction)
	case downloadDone:
		s.onDownloadDone(fl, e.err)
	}
}

func (s *Scheduler) cancel(taskID string) error {
	fl, ok := s.inflight[taskID]
	if !ok {
		return ErrNotInFlight
	}
	s.fail(fl.task, msgCanceled)
	return nil
}

func (s *Scheduler) onUploadStarted(fl *flight, size int64) {
	t := fl.task
	if err := fl.ctx.Err(); err != nil {
		s.fail(t, abortMessage(err))
		return
	}
	t.OriginSize = size
	t.BytesTotal = size
	t.BytesDone = 0
	s.transition(t, StatusUploading)
}

func (s *Scheduler) onUploadProgress(fl *flight, fraction float64) {
	t := fl.task
	if t.Status != StatusUploading {
		return
	}
	if fraction >= 1 {
		s.enterProcessing(t)
		return
	}
	progress := uploadShare * fraction
	if progress <= t.Progress {
		return
	}
	t.Progress = progress
	t.BytesDone = int64(fraction * float64(t.BytesTotal))
	s.transition(t, StatusUploading)
}

func (s *Scheduler) enterProcessing(t *Task) {
	t.Progress = uploadShare
	t.BytesDone = t.BytesTotal
	s.transition(t, StatusProcessing)
}

func (s *Scheduler) onUploadDone(fl *flight, resp *tinify.Response, err error) {
	t := fl.task
	if err != nil {
		switch {
		case fl.ctx.Err() != nil:
			s.fail(t, abortMessage(fl.ctx.Err()))
		case errors.Is(err, tinify.ErrMalformedResponse):
			if t.Status == StatusUploading {
				s.enterProcessing(t)
			}
			s.fail(t, msgFormatError)
		default:
			s.fail(t, err.Error())
		}
		return
	}

	// A response means the body was delivered even if the final progress
	// update has not arrived yet.
	if t.Status == StatusUploading {
		s.enterProcessing(t)
	}

	switch {
	case resp == nil:
		s.fail(t, msgFormatError)
	case resp.CredentialRejected():
		s.rotate(fl, resp)
	case resp.Error != "":
		s.fail(t, resp.ErrorMessage())
	case resp.Output == nil || resp.Output.URL == "":
		s.fail(t, msgDataError)
	default:
		s.startDownload(fl, resp.Output)
	}
}

// rotate drops the credential the service refused. The task itself ends as
// credentials while other keys remain, or as error once the pool is empty.
func (s *Scheduler) rotate(fl *flight, resp *tinify.Response) {
	t := fl.task
	if s.pool.Remove(fl.credential) {
		s.metrics.CredentialRevoked(s.ctx)
		logCredentialRevoked(fl.credential, s.pool.Len(), resp.StatusCode)
	}
	if s.pool.Empty() {
		s.fail(t, resp.ErrorMessage())
		return
	}

	t.ErrorMessage = fmt.Sprintf("api key %s invalid: %s", credential.Mask(fl.credential), resp.ErrorMessage())
	s.transition(t, StatusCredentials)
	if s.requeue {
		s.requeueTask(t)
	}
}

func (s *Scheduler) requeueTask(t *Task) {
	// release counted the credentials verdict as a failure
	s.failed--
	t.Attempt++
	t.Progress = 0
	t.BytesDone = 0
	t.BytesTotal = 0
	t.ResultURL = ""
	t.ResultSize = 0
	t.CompressionRatio = nil
	t.OutputPath = ""
	t.ErrorMessage = ""
	s.transition(t, StatusQueued)
	s.queue.Enqueue(t)
	log.Info().Str("task_id", t.ID).Int("attempt", t.Attempt).Msg("task requeued with next api key")
}

func (s *Scheduler) startDownload(fl *flight, out *tinify.Output) {
	t := fl.task
	t.ResultURL = out.URL
	t.ResultSize = int64(out.Size)
	if t.OriginSize > 0 {
		ratio := out.Size / float64(t.OriginSize)
		t.CompressionRatio = &ratio
	}

	dest, err := s.output.Resolve(t.OriginPath)
	if err != nil {
		s.fail(t, err.Error())
		return
	}
	t.OutputPath = dest
	t.BytesDone = 0
	t.BytesTotal = t.ResultSize
	s.transition(t, StatusDownloading)

	s.workers.Add(1)
	go s.runDownload(fl, out.URL, dest)
}

func (s *Scheduler) onDownloadProgress(fl *flight, fraction float64) {
	t := fl.task
	if t.Status != StatusDownloading {
		return
	}
	if fraction > 1 {
		fraction = 1
	}
	progress := uploadShare + (1-uploadShare)*fraction
	if progress <= t.Progress {
		return
	}
	t.Progress = progress
	t.BytesDone = int64(fraction * float64(t.BytesTotal))
	s.transition(t, StatusDownloading)
}

func (s *Scheduler) onDownloadDone(fl *flight, err error) {
	t := fl.task
	if err != nil {
		log.Warn().Err(err).Str("task_id", t.ID).Str("url", t.ResultURL).Msg("download failed")
		if ctxErr := fl.ctx.Err(); ctxErr != nil {
			s.fail(t, abortMessage(ctxErr))
			return
		}
		s.fail(t, msgDownloadError)
		return
	}
	t.Progress = 1
	t.BytesDone = t.BytesTotal
	s.transition(t, StatusFinished)
}

func abortMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgTimedOut
	}
	return msgCanceled
}
