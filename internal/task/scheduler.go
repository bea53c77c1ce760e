package task

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tinybatch/internal/credential"
	fileutil "tinybatch/internal/file"
	"tinybatch/internal/output"
)

const defaultOutputDir = "tinified"

// Scheduler drives tasks from the queue through upload, remote compression
// and download while keeping at most a fixed number of them in flight.
//
// All dispatch state (counters, credential pool, in-flight tasks) belongs to
// the goroutine executing Run. Transfers run on their own goroutines and
// report back through the events channel; nothing else touches that state.
type Scheduler struct {
	ceiling     int
	taskTimeout time.Duration
	requeue     bool
	allowed     map[string]struct{}

	queue    *Queue
	transfer Transfer
	reader   FileReader
	check    func(path string) error
	output   OutputResolver
	notifier Notifier
	metrics  Metrics

	submitMu sync.Mutex
	events   chan event
	wake     chan struct{}
	done     chan struct{}
	started  atomic.Bool
	workers  sync.WaitGroup

	// owned by Run
	ctx      context.Context
	pool     *credential.Pool
	running  int
	finished int
	failed   int
	inflight map[string]*flight

	statsMu sync.RWMutex
	stats   Stats
}

// flight is the loop's record of one dispatched task attempt. Transfer
// goroutines only read its immutable ctx and credential.
type flight struct {
	task       *Task
	credential string
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewScheduler creates a scheduler. It fails when opts.Credentials holds no key.
func NewScheduler(transfer Transfer, opts Options) (*Scheduler, error) {
	pool, err := credential.Parse(opts.Credentials)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = defaultMaxConcurrent
	}
	allowed := make(map[string]struct{}, len(opts.AllowedExtensions))
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}
	if opts.Reader == nil {
		opts.Reader = FileReaderFunc(fileutil.ReadImage)
	}
	if opts.Check == nil {
		opts.Check = fileutil.CheckReadable
	}
	if opts.Output == nil {
		opts.Output = output.Policy{Dir: defaultOutputDir}
	}
	if opts.Notifier == nil {
		opts.Notifier = Notifiers{}
	}
	if opts.Metrics == nil {
		opts.Metrics = noopMetrics{}
	}

	s := &Scheduler{
		ceiling:     opts.MaxConcurrentTasks,
		taskTimeout: opts.TaskTimeout,
		requeue:     opts.RequeueOnCredentials,
		allowed:     allowed,
		queue:       NewQueue(),
		transfer:    transfer,
		reader:      opts.Reader,
		check:       opts.Check,
		output:      opts.Output,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		events:      make(chan event, opts.MaxConcurrentTasks*4),
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		pool:        pool,
		inflight:    make(map[string]*flight),
	}
	s.publishStats()
	return s, nil
}

// Submit creates one queued task per path and wakes the dispatcher. The
// batch is validated as a whole and enqueued contiguously after earlier
// batches. Execution happens on the Run loop.
func (s *Scheduler) Submit(paths []string) ([]Task, error) {
	if len(paths) == 0 {
		return nil, ErrNoPaths
	}
	select {
	case <-s.done:
		return nil, ErrSchedulerStopped
	default:
	}

	cleaned := make([]string, 0, len(paths))
	for _, rawPath := range paths {
		path := strings.TrimSpace(rawPath)
		if path == "" {
			return nil, fmt.Errorf("%w: empty entry", ErrNoPaths)
		}
		if len(s.allowed) > 0 {
			ext := strings.ToLower(filepath.Ext(path))
			if _, ok := s.allowed[ext]; !ok {
				return nil, NewErrExtNotAllowed(ext)
			}
		}
		cleaned = append(cleaned, path)
	}

	now := time.Now()
	created := make([]*Task, 0, len(cleaned))
	snapshots := make([]Task, 0, len(cleaned))
	for _, path := range cleaned {
		t := &Task{
			ID:         uuid.NewString(),
			OriginPath: path,
			Name:       filepath.Base(path),
			Status:     StatusQueued,
			Attempt:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		created = append(created, t)
		snapshots = append(snapshots, *t)
	}

	s.submitMu.Lock()
	for _, snapshot := range snapshots {
		s.notifier.TaskStatusChanged(snapshot)
	}
	s.queue.Enqueue(created...)
	s.submitMu.Unlock()

	log.Info().Int("tasks", len(created)).Int("queued", s.queue.Len()).Msg("batch submitted")
	s.kick()
	return snapshots, nil
}

// Run executes the dispatch loop until ctx is cancelled. In-flight tasks are
// failed as canceled on the way out. Run may be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)
	s.ctx = ctx
	log.Info().Int("ceiling", s.ceiling).Int("credentials", s.pool.Len()).Msg("scheduler started")

	for {
		s.dispatch()
		select {
		case <-ctx.Done():
			s.abortInflight()
			s.publishStats()
			log.Info().Int("finished", s.finished).Int("failed", s.failed).Msg("scheduler stopped")
			return nil
		case <-s.wake:
		case ev := <-s.events:
			s.handle(ev)
		}
	}
}

// Cancel fails an in-flight task and cancels its transfer.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	reply := make(chan error, 1)
	select {
	case s.events <- cancelRequest{id: taskID, reply: reply}:
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns the latest counters published by the loop.
func (s *Scheduler) Stats() Stats {
	s.statsMu.RLock()
	stats := s.stats
	s.statsMu.RUnlock()
	stats.Queued = s.queue.Len()
	return stats
}

// Done is closed once Run has returned.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// WaitAll blocks until all transfer goroutines finish or the context is done.
// Returns true if all workers finished, false if timed out.
func (s *Scheduler) WaitAll(ctx context.Context) bool {
	finished := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// post hands an event to the loop, dropping it once the loop has exited.
func (s *Scheduler) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// dispatch fills free slots from the queue head. It is the only place the
// running count is compared against the ceiling.
func (s *Scheduler) dispatch() {
	if s.ctx == nil || s.ctx.Err() != nil {
		return
	}
	for s.running < s.ceiling {
		next, ok := s.queue.Dequeue()
		if !ok {
			break
		}
		s.start(next)
	}
	s.publishStats()
}

func (s *Scheduler) start(t *Task) {
	s.transition(t, StatusPreparing)
	s.running++
	s.metrics.TaskStarted(s.ctx)
	log.Debug().Str("task_id", t.ID).Str("file", t.Name).Int("running", s.running).Msg("prepare to upload")

	// failures here release the slot before dispatch looks at the next task
	if err := s.check(t.OriginPath); err != nil {
		s.fail(t, fmt.Sprintf("%s: %v", msgExecuteError, err))
		return
	}
	key, ok := s.pool.First()
	if !ok {
		s.fail(t, msgNoCredentials)
		return
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.taskTimeout > 0 {
		ctx, cancel = context.WithTimeout(s.ctx, s.taskTimeout)
	} else {
		ctx, cancel = context.WithCancel(s.ctx)
	}
	fl := &flight{task: t, credential: key, ctx: ctx, cancel: cancel}
	s.inflight[t.ID] = fl

	s.workers.Add(1)
	go s.runUpload(fl, t.OriginPath)
}

// transition moves t to target and reports the change. Entering a terminal
// status frees the task's slot.
func (s *Scheduler) transition(t *Task, target Status) {
	if err := t.Status.validateTransition(target); err != nil {
		log.Error().Err(err).Str("task_id", t.ID).Msg("dropping status change")
		return
	}
	t.Status = target
	t.UpdatedAt = time.Now()
	if target.Terminal() {
		s.release(t)
	}
	s.notifier.TaskStatusChanged(*t)
}

func (s *Scheduler) release(t *Task) {
	if fl, ok := s.inflight[t.ID]; ok && fl.task == t {
		fl.cancel()
		delete(s.inflight, t.ID)
	}
	s.running--
	if t.Status == StatusFinished {
		s.finished++
	} else {
		s.failed++
	}
	s.metrics.TaskCompleted(s.ctx, t.Status.String())
}

func (s *Scheduler) fail(t *Task, msg string) {
	t.ErrorMessage = msg
	s.transition(t, StatusError)
}

func (s *Scheduler) abortInflight() {
	for _, fl := range s.inflight {
		s.fail(fl.task, msgCanceled)
	}
}

func (s *Scheduler) publishStats() {
	s.statsMu.Lock()
	s.stats = Stats{
		Running:     s.running,
		Finished:    s.finished,
		Failed:      s.failed,
		Credentials: s.pool.Len(),
		Ceiling:     s.ceiling,
	}
	s.statsMu.Unlock()
}
