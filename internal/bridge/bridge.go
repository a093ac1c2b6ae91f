// Package bridge translates an inbound HTTP/3 request into an HTTP/2
// PRIOR_KNOWLEDGE request suitable for a backend, and copies the backend's
// response back, per spec §4.3.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// MaxBodyBytes is the buffering limit for both request and response bodies
// (spec §4.3/§6): 64 KiB.
const MaxBodyBytes = 64 * 1024

// ErrBodyTooLarge is returned when a body exceeds MaxBodyBytes (spec §7
// BodyTooLarge).
var ErrBodyTooLarge = errors.New("body exceeds maximum buffered size")

// hopByHopHeaders are stripped when copying headers in either direction,
// per RFC 7230 §6.1 and spec §4.3 step 2.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// BuildBackendRequest constructs the request to send to a backend from an
// already-decoded inbound request, per spec §4.3's 5-step build:
//  1. Read and size-check the body.
//  2. Copy headers, stripping hop-by-hop and HTTP/2 pseudo-headers.
//  3. Set the Host header to the inbound authority, or to the selected
//     backend address when the inbound request carried none.
//  4. Recompute Content-Length from the buffered body.
//  5. Preserve method and request URI.
func BuildBackendRequest(in *http.Request, backendAddr string) (*http.Request, error) {
	body, err := readLimited(in.Body, MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	out, err := http.NewRequest(in.Method, "http://"+backendAddr+in.URL.RequestURI(), newBodyReader(body))
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}

	for name, values := range in.Header {
		if len(name) > 0 && name[0] == ':' {
			continue // HTTP/2 pseudo-header, never forwarded verbatim
		}
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}
	stripHopByHop(out.Header)

	// spec §4.3 step 4: Host is the request's authority when the client
	// supplied one (net/http surfaces :authority as in.Host for HTTP/2 and
	// HTTP/3 requests), else the selected backend address.
	host := in.Host
	if host == "" {
		host = backendAddr
	}
	out.Host = host
	out.Header.Set("Host", host)
	out.ContentLength = int64(len(body))
	if len(body) > 0 {
		out.Header.Set("Content-Length", strconv.Itoa(len(body)))
	} else {
		out.Header.Del("Content-Length")
	}

	return out, nil
}

// BridgedResponse is a fully buffered backend response, ready to be written
// back to the HTTP/3 stream.
type BridgedResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// CopyResponse buffers a backend response body (subject to the same size
// limit) and copies status/headers, stripping hop-by-hop headers, so the
// caller can write it back to the HTTP/3 stream.
func CopyResponse(resp *http.Response) (*BridgedResponse, error) {
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, MaxBodyBytes)
	if err != nil {
		return nil, err
	}

	header := resp.Header.Clone()
	stripHopByHop(header)
	header.Set("Content-Length", strconv.Itoa(len(body)))

	return &BridgedResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func readLimited(r io.Reader, limit int) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	limited := io.LimitReader(r, int64(limit)+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	if len(body) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

func newBodyReader(b []byte) io.ReadCloser {
	if len(b) == 0 {
		return http.NoBody
	}
	return io.NopCloser(bytes.NewReader(b))
}
