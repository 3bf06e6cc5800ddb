package providers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mjthree/gfs-wind-interpolator/internal/weather"
	"github.com/sony/gobreaker"
)

// DefaultBackoff is the retry policy used against NOMADS.
var DefaultBackoff = BackoffConfig{
	MaxRetries:      3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     5 * time.Second,
}

const userAgent = "gfs-wind-interpolator/1.0"

// NOMADSTransport implements weather.Transport over HTTP.
type NOMADSTransport struct {
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

// NewNOMADSTransport creates a transport sharing one circuit breaker across
// probes and downloads.
func NewNOMADSTransport(client *http.Client, backoff BackoffConfig) *NOMADSTransport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         "nomads",
		MaxRequests:  5,
		Interval:     1 * time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: breakerCountsAsSuccess,
	})

	return &NOMADSTransport{
		httpCfg: HTTPClientConfig{Client: client, Backoff: backoff},
		circuit: cb,
	}
}

func newRequest(method, url string) func() (*http.Request, error) {
	return func() (*http.Request, error) {
		req, err := http.NewRequest(method, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", userAgent)
		return req, nil
	}
}

func is2xx(code int) bool { return code >= 200 && code < 300 }

// Probe issues a HEAD request. 404 and 403 mean "not published".
func (t *NOMADSTransport) Probe(ctx context.Context, url string) (bool, error) {
	resp, err := doRequestWithResilience(ctx, t.httpCfg, t.circuit, newRequest(http.MethodHead, url), func(code int) bool {
		return is2xx(code) || code == http.StatusNotFound || code == http.StatusForbidden
	})
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return is2xx(resp.StatusCode), nil
}

// Download streams url into w. Once the body has started no retry is made,
// since w has already received bytes.
func (t *NOMADSTransport) Download(ctx context.Context, url string, w io.Writer, progress weather.ProgressFunc) (int64, error) {
	resp, err := doRequestWithResilience(ctx, t.httpCfg, t.circuit, newRequest(http.MethodGet, url), is2xx)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	pw := &progressWriter{w: w, total: resp.ContentLength, progress: progress}
	n, err := io.Copy(pw, resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, &weather.TransportError{URL: url, Err: err, Retryable: true}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return n, &weather.TransportError{URL: url, Err: io.ErrUnexpectedEOF, Retryable: true}
	}
	return n, nil
}

type progressWriter struct {
	w        io.Writer
	done     int64
	total    int64
	progress weather.ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.done += int64(n)
	if p.progress != nil && n > 0 {
		p.progress(p.done, p.total)
	}
	return n, err
}

var _ weather.Transport = (*NOMADSTransport)(nil)
