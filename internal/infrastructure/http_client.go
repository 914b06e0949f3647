package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/yourusername/wallcache-go/internal/domain"
)

// HTTPClientOptions configures the pooled client
type HTTPClientOptions struct {
	ConnectTimeout      time.Duration
	ReadTimeout         time.Duration
	MaxIdleConnsPerHost int
	UserAgent           string
}

// HTTPClientOptionsFromConfig derives client options from download configuration
func HTTPClientOptionsFromConfig(cfg *domain.DownloadConfig) HTTPClientOptions {
	return HTTPClientOptions{
		ConnectTimeout:      cfg.ConnectTimeout,
		ReadTimeout:         cfg.ReadTimeout,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		UserAgent:           cfg.UserAgent,
	}
}

// Response is an open, successful response. Body must be closed.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentType   string
}

// HTTPClient is the process-wide pooled client shared by every download task.
// It performs a single attempt per call; retry policy belongs to the caller.
type HTTPClient struct {
	client *http.Client
	opts   HTTPClientOptions
}

// NewHTTPClient creates a pooled client. No overall request timeout is set;
// bodies are bounded by the per-read idle timeout instead.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 2
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 4,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		ExpectContinueTimeout: time.Second,
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// Open issues a GET for locator and returns the body of a 2xx response.
// Failures are returned as *domain.NetworkError classified transient or
// permanent, or as the context error when ctx was cancelled.
func (c *HTTPClient) Open(ctx context.Context, locator string) (*Response, error) {
	u, err := url.Parse(locator)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		if err == nil {
			err = fmt.Errorf("unsupported locator %q", locator)
		}
		return nil, &domain.NetworkError{Err: err}
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, &domain.NetworkError{Err: fmt.Errorf("create request: %w", err)}
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &domain.NetworkError{Transient: true, Err: err}
	}

	if err := checkStatusCode(resp.StatusCode); err != nil {
		// Drain a little so the connection can return to the pool
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, err
	}

	return &Response{
		Body:          newIdleTimeoutReader(ctx, resp.Body, c.opts.ReadTimeout, cancel),
		ContentLength: resp.ContentLength,
		ContentType:   resp.Header.Get("Content-Type"),
	}, nil
}

// Close releases idle pooled connections
func (c *HTTPClient) Close() {
	c.client.CloseIdleConnections()
}

// checkStatusCode maps a status code to a classified error, nil for 2xx
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500,
		code == http.StatusRequestTimeout,
		code == http.StatusTooManyRequests:
		return &domain.NetworkError{Transient: true, StatusCode: code, Err: errors.New(http.StatusText(code))}
	default:
		return &domain.NetworkError{StatusCode: code, Err: errors.New(http.StatusText(code))}
	}
}

// idleTimeoutReader aborts the request when no bytes arrive for timeout.
// A zero timeout disables the timer but keeps error classification.
type idleTimeoutReader struct {
	parent   context.Context
	body     io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	cancel   context.CancelFunc
	timedOut atomic.Bool
}

func newIdleTimeoutReader(parent context.Context, body io.ReadCloser, timeout time.Duration, cancel context.CancelFunc) *idleTimeoutReader {
	r := &idleTimeoutReader{
		parent:  parent,
		body:    body,
		timeout: timeout,
		cancel:  cancel,
	}
	if timeout > 0 {
		r.timer = time.AfterFunc(timeout, func() {
			r.timedOut.Store(true)
			cancel()
		})
	}
	return r
}

func (r *idleTimeoutReader) Read(p []byte) (int, error) {
	n, err := r.body.Read(p)
	if n > 0 && r.timer != nil && !r.timedOut.Load() {
		r.timer.Reset(r.timeout)
	}
	if err == nil || err == io.EOF {
		return n, err
	}

	switch {
	case r.parent.Err() != nil:
		return n, r.parent.Err()
	case r.timedOut.Load():
		return n, &domain.NetworkError{
			Transient: true,
			Err:       fmt.Errorf("no data for %s: %w", r.timeout, context.DeadlineExceeded),
		}
	default:
		return n, &domain.NetworkError{Transient: true, Err: err}
	}
}

func (r *idleTimeoutReader) Close() error {
	if r.timer != nil {
		r.timer.Stop()
	}
	err := r.body.Close()
	r.cancel()
	return err
}
