package export

import (
	"crypto/tls"
	"net"
	nethttp "net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// newHTTPClient creates the client every backend uploads through. There is
// no overall timeout; uploads are bounded by their context.
func newHTTPClient() *nethttp.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	tr := &nethttp.Transport{
		Proxy:                 nethttp.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		// archives are already compressed
		DisableCompression: true,
		ForceAttemptHTTP2:  true,
	}
	_ = http2.ConfigureTransport(tr)

	// DISABLE_HTTP2=true forces HTTP/1.1
	if os.Getenv("DISABLE_HTTP2") == "true" {
		tr.ForceAttemptHTTP2 = false
		tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
	}

	return &nethttp.Client{Transport: tr}
}
