package provider

import (
	"net"
	"net/http"
	"sync"
	"time"
)

var (
	transportOnce sync.Once
	transport     *http.Transport
)

// sharedTransport pools connections for every outbound API client in the process.
func sharedTransport() *http.Transport {
	transportOnce.Do(func() {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		}
	})
	return transport
}

// SharedHTTPClient returns a client over the pooled transport. The timeout
// bounds the whole exchange, body included.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport(),
	}
}
