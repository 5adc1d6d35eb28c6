// Package httpkit builds the HTTP clients used for every outbound call:
// the Matrix homeserver, Ollama, CalDAV, Immich, OpenWeatherMap and news
// feeds. All of them share one transport shape with explicit dial and
// TLS timeouts and a small idle pool, identify themselves as Memu, and
// can optionally retry connections refused by a restarting container.
package httpkit

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"

	"github.com/memu-digital/memu-bot/internal/buildinfo"
)

// Transport limits. Household services are few and local, so the idle
// pool is kept small.
const (
	dialTimeout           = 10 * time.Second
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 10 * time.Second
	responseHeaderTimeout = 15 * time.Second
	idleConnTimeout       = 90 * time.Second
	maxIdleConns          = 16
	maxIdleConnsPerHost   = 4
)

// Option configures NewClient.
type Option func(*options)

type options struct {
	timeout    time.Duration
	retries    uint64
	retryDelay time.Duration
	logger     *slog.Logger
}

// WithTimeout bounds each whole request. Zero means no limit, which the
// Matrix long-poll relies on being larger than its hold time.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithRetry resends a request up to n times when the connection is
// refused or the host is unreachable. Nothing reached the server in
// those cases, so the resend cannot duplicate work. Waits start at
// delay and double.
func WithRetry(n int, delay time.Duration) Option {
	return func(o *options) {
		if n > 0 {
			o.retries = uint64(n)
		}
		o.retryDelay = delay
	}
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ResponseHeaderTimeout: responseHeaderTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		ForceAttemptHTTP2:     true,
	}
}

// NewClient builds an *http.Client on the shared transport. The default
// timeout is 30 seconds.
func NewClient(opts ...Option) *http.Client {
	o := options{timeout: 30 * time.Second, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	var rt http.RoundTripper = &identify{base: newTransport(), ua: buildinfo.UserAgent()}
	if o.retries > 0 {
		rt = &retrying{base: rt, retries: o.retries, delay: o.retryDelay, logger: o.logger}
	}
	return &http.Client{Timeout: o.timeout, Transport: rt}
}

// NewRestClient wraps a client from [NewClient] in a resty client rooted
// at baseURL, for the JSON APIs (Immich, OpenWeatherMap).
func NewRestClient(baseURL string, opts ...Option) *resty.Client {
	return resty.NewWithClient(NewClient(opts...)).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", buildinfo.UserAgent())
}

// identify sets the User-Agent unless the caller chose one.
type identify struct {
	base http.RoundTripper
	ua   string
}

func (t *identify) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// retrying resends requests that failed before reaching the server.
type retrying struct {
	base    http.RoundTripper
	retries uint64
	delay   time.Duration
	logger  *slog.Logger
}

func (t *retrying) RoundTrip(req *http.Request) (*http.Response, error) {
	// A body that cannot be rewound can only be sent once.
	rewindable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.delay
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	attempt := 0
	var resp *http.Response
	op := func() error {
		attempt++
		r := req
		if attempt > 1 {
			r = req.Clone(req.Context())
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(fmt.Errorf("rewind request body: %w", err))
				}
				r.Body = body
			}
		}
		var err error
		resp, err = t.base.RoundTrip(r)
		if err != nil && (!rewindable || !Unreached(err)) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.logger.Debug("retrying request",
			"method", req.Method,
			"host", req.URL.Host,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(policy, t.retries), req.Context()), notify)
	if err != nil {
		return nil, err
	}
	if attempt > 1 {
		t.logger.Info("request succeeded after retry", "method", req.Method, "host", req.URL.Host, "attempts", attempt)
	}
	return resp, nil
}

// Unreached reports whether err means the request never reached the
// server: connection refused, or no route to the host or network.
// ECONNRESET is deliberately absent; the server may already have acted,
// and a resent Matrix send would post the message twice.
func Unreached(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// DrainAndClose discards up to limit bytes of rc and closes it so the
// connection goes back to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	_ = rc.Close()
}

// ReadErrorBody returns up to limit bytes of an error response for a
// log line or error message, then drains and closes rc.
func ReadErrorBody(rc io.ReadCloser, limit int64) string {
	if rc == nil {
		return ""
	}
	defer DrainAndClose(rc, 4096)
	body, err := io.ReadAll(io.LimitReader(rc, limit))
	if err != nil {
		return fmt.Sprintf("(unreadable body: %v)", err)
	}
	return strings.TrimSpace(string(body))
}
