// Package fetch downloads documents submitted by URL.
package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rotisserie/eris"

	"github.com/bryanwahyu/docguard/internal/middleware"
)

const (
	DefaultTimeout  = 30 * time.Second
	DefaultMaxBytes = 50 << 20

	maxRedirects = 10
)

var (
	// ErrTooLarge is returned when the body exceeds the configured cap.
	ErrTooLarge = eris.New("document exceeds size limit")
	// ErrInternalAddress is returned when a download would dial an internal IP.
	ErrInternalAddress = eris.New("refusing to connect to internal address")
)

// HTTPFetcher implements analysis.Fetcher with a size cap.
// Every dial is checked against the resolved IP, every redirect hop against ValidateURL.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func New(timeout time.Duration, maxBytes int64) *HTTPFetcher {
	return newFetcher(timeout, maxBytes, true)
}

// newFetcher with guard=false lets tests reach httptest servers on loopback.
func newFetcher(timeout time.Duration, maxBytes int64, guard bool) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	if guard {
		dialer.Control = dialControl
	}
	transport := &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	client := &http.Client{
		Timeout:       timeout,
		Transport:     transport,
		CheckRedirect: checkRedirect,
	}
	return &HTTPFetcher{client: client, maxBytes: maxBytes}
}

// dialControl runs after DNS resolution, so hostnames pointing inward are caught too.
func dialControl(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return eris.Wrapf(err, "dial %s %s", network, address)
	}
	ip := net.ParseIP(host)
	if ip == nil || middleware.IsInternalIP(ip) {
		return eris.Wrapf(ErrInternalAddress, "dial %s", address)
	}
	return nil
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return eris.Errorf("stopped after %d redirects", maxRedirects)
	}
	if err := middleware.ValidateURL(req.URL.String()); err != nil {
		return eris.Wrapf(err, "redirect to %s", req.URL.Redacted())
	}
	return nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "download %s", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("download %s: status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", url)
	}
	if int64(len(b)) > f.maxBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}
