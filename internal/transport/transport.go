package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MaxRedirects bounds the redirect chain followed by every request
const MaxRedirects = 5

// Response is the result of a textual GET
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Transport is the HTTP collaborator used by the resolver and the installer
type Transport interface {
	// Get fetches url with the given headers. A non-2xx status is not an
	// error; only failures to obtain a response are.
	Get(ctx context.Context, url string, headers map[string]string, timeout time.Duration) (*Response, error)

	// Download streams url into dst and returns the number of bytes written.
	Download(ctx context.Context, url string, dst io.Writer, timeout time.Duration) (int64, error)
}

// Error is a transport-level failure: no usable response was obtained
type Error struct {
	URL     string
	Timeout bool
	Err     error
}

func (e *Error) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("request to %s failed: %v", e.URL, e.Err)
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError reports an unexpected HTTP status during a download
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// Options configures a Client
type Options struct {
	UserAgent         string
	RequestsPerSecond float64
	MaxDownloadBytes  int64
}

// Client implements Transport on top of resty
type Client struct {
	resty    *resty.Client
	opts     Options
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClient creates a transport client
func NewClient(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "addonsync"
	}

	// Pooled transport from retryablehttp; retries are handled by resty so
	// rate-limit responses reach the resolver untouched.
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	restyClient := resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(MaxRedirects)).
		SetRetryCount(1).
		SetRetryWaitTime(250*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("User-Agent", opts.UserAgent)
	restyClient.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return shouldRetry(err)
		}
		return r != nil && r.StatusCode() >= 500
	})

	return &Client{
		resty:    restyClient,
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

// shouldRetry retries network errors but never cancellations or deadlines
func shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	return errors.As(err, &netErr) && !netErr.Timeout()
}

func (c *Client) limiter(rawURL string) *rate.Limiter {
	if c.opts.RequestsPerSecond <= 0 {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[u.Host]
	if !ok {
		burst := int(c.opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.opts.RequestsPerSecond), burst)
		c.limiters[u.Host] = l
	}
	return l
}

func (c *Client) wait(ctx context.Context, rawURL string) error {
	if l := c.limiter(rawURL); l != nil {
		if err := l.Wait(ctx); err != nil {
			return &Error{URL: rawURL, Err: err}
		}
	}
	return nil
}

// Get implements Transport
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.wait(ctx, rawURL); err != nil {
		return nil, err
	}

	logrus.Debugf("GET %s", rawURL)
	resp, err := c.resty.R().
		SetContext(ctx).
		SetHeaders(headers).
		Get(rawURL)
	if err != nil {
		return nil, wrapError(rawURL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
		FinalURL:   finalURL(resp, rawURL),
	}, nil
}

// Download implements Transport. The body is streamed, never buffered whole.
func (c *Client) Download(ctx context.Context, rawURL string, dst io.Writer, timeout time.Duration) (int64, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.wait(ctx, rawURL); err != nil {
		return 0, err
	}

	logrus.Debugf("Downloading %s", rawURL)
	resp, err := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(rawURL)
	if err != nil {
		return 0, wrapError(rawURL, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() != http.StatusOK {
		return 0, &StatusError{URL: rawURL, StatusCode: resp.StatusCode()}
	}

	var src io.Reader = body
	maxBytes := c.opts.MaxDownloadBytes
	if maxBytes > 0 {
		src = io.LimitReader(body, maxBytes+1)
	}
	out := &recordingWriter{w: dst}
	n, err := io.Copy(out, src)
	if out.err != nil {
		return n, fmt.Errorf("failed to write download %s: %w", rawURL, out.err)
	}
	if err != nil {
		return n, wrapError(rawURL, err)
	}
	if maxBytes > 0 && n > maxBytes {
		return n, fmt.Errorf("download %s exceeds %d bytes", rawURL, maxBytes)
	}
	return n, nil
}

// recordingWriter remembers the destination's write error so local disk
// failures are not reported as transport failures
type recordingWriter struct {
	w   io.Writer
	err error
}

func (r *recordingWriter) Write(p []byte) (int, error) {
	n, err := r.w.Write(p)
	if err != nil {
		r.err = err
	}
	return n, err
}

func wrapError(rawURL string, err error) error {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &Error{URL: rawURL, Timeout: timeout, Err: err}
}

func finalURL(resp *resty.Response, fallback string) string {
	if resp.RawResponse != nil && resp.RawResponse.Request != nil && resp.RawResponse.Request.URL != nil {
		return resp.RawResponse.Request.URL.String()
	}
	return fallback
}

// IsRateLimited reports whether resp signals API rate limiting. Both 429 and
// 403 count: GitHub answers exhausted and secondary limits with 403, with or
// without quota left in X-RateLimit-Remaining.
func IsRateLimited(resp *Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden
}
