package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tinybatch/internal/tinify"
)

const waitTimeout = 2 * time.Second

type uploadResult struct {
	resp *tinify.Response
	err  error
}

// fakeTransfer blocks every upload and download until the test releases it.
// It doubles as the FileReader so it can map request bodies back to paths.
type fakeTransfer struct {
	mu        sync.Mutex
	sizes     map[string]int
	checkErrs map[string]error
	readErrs  map[string]error
	reads     map[string]int
	byBody    map[string]string
	uploads   map[string]chan uploadResult
	downloads map[string]chan error
	creds     map[string][]string
}

func newFakeTransfer() *fakeTransfer {
	return &fakeTransfer{
		sizes:     make(map[string]int),
		checkErrs: make(map[string]error),
		readErrs:  make(map[string]error),
		reads:     make(map[string]int),
		byBody:    make(map[string]string),
		uploads:   make(map[string]chan uploadResult),
		downloads: make(map[string]chan error),
		creds:     make(map[string][]string),
	}
}

func (f *fakeTransfer) Check(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkErrs[path]
}

func (f *fakeTransfer) ReadFile(path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[path]++
	if err := f.readErrs[path]; err != nil {
		return nil, err
	}
	size := f.sizes[path]
	if size < len(path) {
		size = len(path)
	}
	data := make([]byte, size)
	copy(data, path)
	f.byBody[string(data)] = path
	return data, nil
}

func (f *fakeTransfer) uploadCh(path string) chan uploadResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.uploads[path]
	if !ok {
		ch = make(chan uploadResult, 1)
		f.uploads[path] = ch
	}
	return ch
}

func (f *fakeTransfer) downloadCh(url string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.downloads[url]
	if !ok {
		ch = make(chan error, 1)
		f.downloads[url] = ch
	}
	return ch
}

func (f *fakeTransfer) Upload(ctx context.Context, body []byte, credential string, progress func(float64)) (*tinify.Response, error) {
	f.mu.Lock()
	path := f.byBody[string(body)]
	f.creds[path] = append(f.creds[path], credential)
	f.mu.Unlock()

	progress(0.5)
	select {
	case r := <-f.uploadCh(path):
		if r.err == nil {
			progress(1)
		}
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransfer) Download(ctx context.Context, url, _ string, progress func(float64)) error {
	progress(0.5)
	select {
	case err := <-f.downloadCh(url):
		if err == nil {
			progress(1)
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransfer) readCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads[path]
}

func (f *fakeTransfer) credentialsUsed(path string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.creds[path]...)
}

func resultURL(path string) string { return "https://cdn.test/" + path }

// succeedUpload answers path's upload with a compressed size.
func (f *fakeTransfer) succeedUpload(path string, size float64) {
	f.uploadCh(path) <- uploadResult{resp: &tinify.Response{
		StatusCode: 201,
		Output:     &tinify.Output{URL: resultURL(path), Size: size},
	}}
}

func (f *fakeTransfer) respondUpload(path string, resp *tinify.Response, err error) {
	f.uploadCh(path) <- uploadResult{resp: resp, err: err}
}

func (f *fakeTransfer) finishDownload(path string, err error) {
	f.downloadCh(resultURL(path)) <- err
}

// complete drives path all the way to finished.
func (f *fakeTransfer) complete(path string) {
	f.succeedUpload(path, 10)
	f.finishDownload(path, nil)
}

func quotaResponse() *tinify.Response {
	return &tinify.Response{StatusCode: 429, Error: "TooManyRequests", Message: "Your monthly limit has been exceeded"}
}

func unauthorizedResponse() *tinify.Response {
	return &tinify.Response{StatusCode: 401, Error: "Unauthorized", Message: "Credentials are invalid."}
}

// countingMetrics tallies the scheduler's metric calls.
type countingMetrics struct {
	mu        sync.Mutex
	started   int
	completed map[string]int
	revoked   int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{completed: make(map[string]int)}
}

func (m *countingMetrics) TaskStarted(context.Context) {
	m.mu.Lock()
	m.started++
	m.mu.Unlock()
}

func (m *countingMetrics) TaskCompleted(_ context.Context, status string) {
	m.mu.Lock()
	m.completed[status]++
	m.mu.Unlock()
}

func (m *countingMetrics) CredentialRevoked(context.Context) {
	m.mu.Lock()
	m.revoked++
	m.mu.Unlock()
}

func (m *countingMetrics) totals() (started, completed, revoked int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range m.completed {
		completed += n
	}
	return m.started, completed, m.revoked
}

// recorder captures every snapshot and tracks how many tasks are in flight.
type recorder struct {
	mu          sync.Mutex
	history     map[string][]Task
	sequence    []Task
	current     map[string]Status
	maxInFlight int
	maxActive   int
}

func newRecorder() *recorder {
	return &recorder{history: make(map[string][]Task), current: make(map[string]Status)}
}

func (r *recorder) TaskStatusChanged(snapshot Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[snapshot.Name] = append(r.history[snapshot.Name], snapshot)
	r.sequence = append(r.sequence, snapshot)
	r.current[snapshot.Name] = snapshot.Status

	inFlight, active := 0, 0
	for _, status := range r.current {
		if status.InFlight() {
			inFlight++
		}
		if status.InFlight() || status == StatusPreparing {
			active++
		}
	}
	if inFlight > r.maxInFlight {
		r.maxInFlight = inFlight
	}
	if active > r.maxActive {
		r.maxActive = active
	}
}

func (r *recorder) latest(name string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h := r.history[name]
	if len(h) == 0 {
		return Task{}, false
	}
	return h[len(h)-1], true
}

func (r *recorder) statuses(name string) []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.history[name]))
	for _, snapshot := range r.history[name] {
		out = append(out, snapshot.Status)
	}
	return out
}

func (r *recorder) events() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Task(nil), r.sequence...)
}

func (r *recorder) waitStatus(t *testing.T, name string, want Status) Task {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := r.latest(name)
		return ok && got.Status == want
	}, waitTimeout, 2*time.Millisecond, "task %s never reached %s (history %v)", name, want, r.statuses(name))
	got, _ := r.latest(name)
	return got
}

func (r *recorder) countStatus(status Status) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.current {
		if s == status {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, ft *fakeTransfer, rec *recorder, opts Options) *Scheduler {
	t.Helper()
	if opts.Credentials == "" {
		opts.Credentials = "key-one-1111"
	}
	opts.Reader = ft
	opts.Check = ft.Check
	opts.Notifier = rec
	s, err := NewScheduler(ft, opts)
	require.NoError(t, err)
	return s
}

// startScheduler runs s until the returned stop function or test cleanup.
func startScheduler(t *testing.T, s *Scheduler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = s.Run(ctx) }()
	stop := func() {
		cancel()
		<-s.Done()
	}
	t.Cleanup(stop)
	return stop
}

var errDisk = errors.New("permission denied")
