package telegram

import (
	"net"
	"net/http"
	"time"

	"github.com/m3rciful/seerrbot/core/telegram/netutil"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls. Dial
// and timeout failures are retried with linear backoff.
func BuildHTTPClient() *http.Client {
	return &http.Client{
		Timeout: defaultClientTimeout,
		Transport: &netutil.RetryTransport{
			Base:       newTransport(),
			MaxRetries: defaultRetryAttempts,
			Backoff:    defaultRetryBackoff,
		},
	}
}

// BuildSingleShotClient returns a client that never retries and gives up
// after timeout. Use it where a duplicate delivery is worse than a lost one.
func BuildSingleShotClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	return &http.Client{Timeout: timeout, Transport: newTransport()}
}

// BuildAPIClient returns a client for the media request API. It shares the
// dialer settings of Telegram calls and also retries gateway errors on reads.
func BuildAPIClient(timeout time.Duration, retries int) *http.Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	if retries < 0 {
		retries = 0
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &netutil.RetryTransport{
			Base:       newTransport(),
			MaxRetries:    retries,
			Backoff:       defaultRetryBackoff / 4,
			RetryStatuses: true,
		},
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: defaultResponseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
