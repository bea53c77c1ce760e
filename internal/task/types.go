package task

import (
	"context"
	"time"

	"tinybatch/internal/tinify"
)

type Status string

const (
	StatusQueued      Status = "queued"
	StatusPreparing   Status = "preparing"
	StatusUploading   Status = "uploading"
	StatusProcessing  Status = "processing"
	StatusDownloading Status = "downloading"
	StatusFinished    Status = "finished"
	StatusError       Status = "error"
	// StatusCredentials marks a task whose api key ran out of quota while
	// other keys remain in the pool.
	StatusCredentials Status = "credentials"
)

// Task is one image file's trip through upload, remote compression and
// download. Values handed out by the scheduler are snapshots.
type Task struct {
	ID               string    `json:"id"`
	OriginPath       string    `json:"origin_path"`
	Name             string    `json:"name"`
	Status           Status    `json:"status"`
	Progress         float64   `json:"progress"`
	BytesDone        int64     `json:"bytes_done"`
	BytesTotal       int64     `json:"bytes_total"`
	OriginSize       int64     `json:"origin_size,omitempty"`
	ResultURL        string    `json:"result_url,omitempty"`
	ResultSize       int64     `json:"result_size,omitempty"`
	CompressionRatio *float64  `json:"compression_ratio,omitempty"`
	OutputPath       string    `json:"output_path,omitempty"`
	ErrorMessage     string    `json:"error_message,omitempty"`
	Attempt          int       `json:"attempt"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Transfer performs the network side of a task.
type Transfer interface {
	Upload(ctx context.Context, body []byte, credential string, progress func(float64)) (*tinify.Response, error)
	Download(ctx context.Context, url, dest string, progress func(float64)) error
}

// FileReader loads the bytes of an origin file.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}

// FileReaderFunc adapts a function to FileReader.
type FileReaderFunc func(path string) ([]byte, error)

func (f FileReaderFunc) ReadFile(path string) ([]byte, error) { return f(path) }

// OutputResolver picks the destination of a compressed file.
type OutputResolver interface {
	Resolve(originPath string) (string, error)
}

// Stats is a point-in-time view of the scheduler counters.
type Stats struct {
	Queued      int `json:"queued"`
	Running     int `json:"running"`
	Finished    int `json:"finished"`
	Failed      int `json:"failed"`
	Credentials int `json:"credentials_remaining"`
	Ceiling     int `json:"ceiling"`
}

type Options struct {
	MaxConcurrentTasks int
	// Credentials is the comma-separated api key list.
	Credentials       string
	AllowedExtensions []string
	// TaskTimeout bounds a task's network work; zero means no deadline.
	TaskTimeout time.Duration
	// RequeueOnCredentials puts a task whose key was rejected back on the queue
	// while other keys remain.
	RequeueOnCredentials bool

	Output OutputResolver
	Reader FileReader
	// Check runs on the dispatch loop before a task takes its slot. It must
	// be cheap; the full read happens on the transfer goroutine.
	Check    func(path string) error
	Notifier Notifier
	Metrics  Metrics
}

const defaultMaxConcurrent = 5
