// Package tinify talks to a TinyPNG-compatible shrink endpoint: it uploads
// raw image bytes, decodes the JSON verdict and downloads the compressed
// result to disk.
package tinify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	fileutil "tinybatch/internal/file"
)

const (
	// DefaultEndpoint is the public TinyPNG shrink API.
	DefaultEndpoint    = "https://api.tinify.com/shrink"
	defaultHTTPTimeout = 60 * time.Second
	maxResponseBytes   = 1 << 20

	quotaErrorCode        = "TooManyRequests"
	unauthorizedErrorCode = "Unauthorized"
)

var (
	// ErrMalformedResponse means the upload response body was not a JSON object.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrUnexpectedStatus is returned by Download for non-2xx answers.
	ErrUnexpectedStatus = errors.New("unexpected status")
)

// Output is the compressed image descriptor returned on success.
type Output struct {
	URL    string  `json:"url"`
	Size   float64 `json:"size"`
	Type   string  `json:"type,omitempty"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Ratio  float64 `json:"ratio,omitempty"`
}

// Response is the decoded shrink verdict. Error and Output are both optional.
type Response struct {
	StatusCode int     `json:"-"`
	Error      string  `json:"error,omitempty"`
	Message    string  `json:"message,omitempty"`
	Output     *Output `json:"output,omitempty"`
}

// ErrorMessage prefers the human readable message over the error code.
func (r *Response) ErrorMessage() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Error
}

// QuotaExceeded reports whether a failed response means the credential used
// has run out of its compression allowance.
func (r *Response) QuotaExceeded() bool {
	if r.Error == "" {
		return false
	}
	if r.StatusCode == http.StatusTooManyRequests || r.Error == quotaErrorCode {
		return true
	}
	return strings.Contains(strings.ToLower(r.Message), "limit")
}

// CredentialRejected reports whether the response proves the credential
// unusable, either out of quota or not accepted at all.
func (r *Response) CredentialRejected() bool {
	if r.Error == "" {
		return false
	}
	if r.QuotaExceeded() {
		return true
	}
	return r.StatusCode == http.StatusUnauthorized || r.Error == unauthorizedErrorCode
}

// Options configures a Client.
type Options struct {
	Endpoint    string
	HTTPTimeout time.Duration
	// UploadRate limits upload starts per second; 0 disables limiting.
	UploadRate  float64
	UploadBurst int
	HTTPClient  *http.Client
}

// Client uploads to and downloads from the compression service.
type Client struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a client. A nil HTTPClient gets an otelhttp-instrumented one.
func NewClient(opts Options) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = defaultHTTPTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   opts.HTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	c := &Client{endpoint: opts.Endpoint, http: httpClient}
	if opts.UploadRate > 0 {
		burst := opts.UploadBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.UploadRate), burst)
	}
	return c
}

// Upload posts body authenticated with credential. progress receives the
// fraction of the body sent, reaching 1 once the body is fully written.
// A transport failure is returned as an error; a response that cannot be
// decoded yields ErrMalformedResponse.
func (c *Client) Upload(ctx context.Context, body []byte, credential string, progress func(float64)) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	reader := &fileutil.ProgressReader{R: bytes.NewReader(body), Total: int64(len(body)), OnUpdate: progress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Authorization", basicAuth(credential))
	req.Header.Set("Accept", "application/json")

	httpResponse, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(httpResponse.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}
	log.Debug().Int("status", httpResponse.StatusCode).Int("bytes", len(raw)).Msg("shrink response received")

	parsed, err := decodeResponse(raw)
	if err != nil {
		return nil, err
	}
	parsed.StatusCode = httpResponse.StatusCode
	return parsed, nil
}

func decodeResponse(raw []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformedResponse
	}
	var parsed Response
	if err := json.Unmarshal(trimmed, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &parsed, nil
}

// Download fetches url into dest atomically, reporting progress as a fraction
// of the announced content length.
func (c *Client) Download(ctx context.Context, url, dest string, progress func(float64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	httpResponse, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		log.Warn().Str("url", url).Int("status", httpResponse.StatusCode).Msg("unexpected download status")
		return fmt.Errorf("%w: http %d", ErrUnexpectedStatus, httpResponse.StatusCode)
	}

	reader := &fileutil.ProgressReader{R: httpResponse.Body, Total: httpResponse.ContentLength, OnUpdate: progress}
	if err := fileutil.CopyAtomic(dest, reader); err != nil {
		return fmt.Errorf("store download: %w", err)
	}
	return nil
}

func basicAuth(credential string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte("api:"+credential))
}
