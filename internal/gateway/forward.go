package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/In5al/pad-labs-onethree/internal/load"
)

// OutcomeKind classifies how a forward ended.
type OutcomeKind int

const (
	// OutcomeSuccess - backend answered with a non-5xx status.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeUpstreamError - backend answered with a 5xx status.
	OutcomeUpstreamError
	// OutcomeTimeout - the call exceeded the backend timeout.
	OutcomeTimeout
	// OutcomeTransportError - connection refused, reset, or DNS failure.
	OutcomeTransportError
)

// Outcome is the single result of one forward: either a backend response to
// relay, or a failure kind with detail. Exactly one outcome is produced per
// forward; the router inspects it to update the breaker and the client
// response in one place.
type Outcome struct {
	Kind     OutcomeKind
	Response *http.Response
	Detail   string
}

// Failure reports whether the outcome counts as a breaker failure.
func (o *Outcome) Failure() bool {
	return o.Kind != OutcomeSuccess
}

// hopByHopHeaders are stripped in both directions; everything else is
// relayed verbatim.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Forwarder issues outbound calls to selected backend instances.
type Forwarder struct {
	client   *http.Client
	restPort int
	secret   string
	timeout  time.Duration
}

// NewForwarder creates a forwarder applying timeout as both connect and
// read deadline on every call.
func NewForwarder(restPort int, secret string, timeout time.Duration) *Forwarder {
	return &Forwarder{
		client: &http.Client{
			// Redirects are relayed to the client, not followed.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: timeout,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
			Timeout: timeout,
		},
		restPort: restPort,
		secret:   secret,
		timeout:  timeout,
	}
}

// Forward sends the incoming request to the chosen instance: same method,
// same body bytes, all non-hop-by-hop headers plus the gateway token. The
// caller owns closing the response body whenever the outcome carries a
// Response (success and 5xx outcomes).
func (f *Forwarder) Forward(r *http.Request, instance string) *Outcome {
	target := fmt.Sprintf("http://%s%s", load.RESTAddress(instance, f.restPort), r.URL.RequestURI())

	ctx, cancel := context.WithTimeout(r.Context(), f.timeout)

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		cancel()
		return &Outcome{Kind: OutcomeTransportError, Detail: err.Error()}
	}
	req.ContentLength = r.ContentLength

	copyHeaders(req.Header, r.Header)
	req.Header.Set("X-Gateway-Token", f.secret)

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		if isTimeout(err) {
			return &Outcome{Kind: OutcomeTimeout, Detail: "Request timed out"}
		}
		return &Outcome{Kind: OutcomeTransportError, Detail: err.Error()}
	}

	// Tie the context's lifetime to the response body.
	resp.Body = &cancelOnCloseBody{ReadCloser: resp.Body, cancel: cancel}

	removeHopByHopHeaders(resp.Header)

	if resp.StatusCode >= http.StatusInternalServerError {
		return &Outcome{Kind: OutcomeUpstreamError, Response: resp}
	}

	return &Outcome{Kind: OutcomeSuccess, Response: resp}
}

// isTimeout reports whether an outbound error is a deadline miss.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// copyHeaders relays src into dst, skipping hop-by-hop headers.
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	removeHopByHopHeaders(dst)
}

// removeHopByHopHeaders strips connection-scoped headers.
func removeHopByHopHeaders(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// cancelOnCloseBody releases the request context when the relayed body is
// closed.
type cancelOnCloseBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnCloseBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
