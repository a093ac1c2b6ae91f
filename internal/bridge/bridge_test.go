package bridge

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBuildBackendRequestCopiesMethodAndPath(t *testing.T) {
	in := httptest.NewRequest(http.MethodPost, "https://edge.example.com/v1/widgets?x=1", strings.NewReader("hello"))
	in.Header.Set("X-Custom", "abc")
	in.Header.Set("Connection", "keep-alive")

	out, err := BuildBackendRequest(in, "10.0.0.5:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Method != http.MethodPost {
		t.Errorf("expected POST, got %s", out.Method)
	}
	if out.URL.RequestURI() != "/v1/widgets?x=1" {
		t.Errorf("expected request URI preserved, got %s", out.URL.RequestURI())
	}
	if out.Header.Get("X-Custom") != "abc" {
		t.Error("expected custom header to be copied")
	}
	if out.Header.Get("Connection") != "" {
		t.Error("expected hop-by-hop Connection header to be stripped")
	}
	if out.Host != "edge.example.com" {
		t.Errorf("expected Host preserved from request authority, got %s", out.Host)
	}
	if out.Header.Get("Content-Length") != "5" {
		t.Errorf("expected recomputed Content-Length 5, got %s", out.Header.Get("Content-Length"))
	}
}

func TestBuildBackendRequestStripsProxyConnection(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "https://edge.example.com/", nil)
	in.Header.Set("Proxy-Connection", "keep-alive")

	out, err := BuildBackendRequest(in, "10.0.0.5:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Header.Get("Proxy-Connection") != "" {
		t.Error("expected hop-by-hop Proxy-Connection header to be stripped (spec §4.3 step 3)")
	}
}

func TestBuildBackendRequestStripsPseudoHeaders(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "https://edge.example.com/", nil)
	in.Header.Set(":authority", "edge.example.com")

	out, err := BuildBackendRequest(in, "10.0.0.5:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Header.Get(":authority") != "" {
		t.Error("expected pseudo-header to be stripped")
	}
}

func TestBuildBackendRequestFallsBackToBackendAddrWithNoAuthority(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "/a", nil)
	in.Host = ""
	in.Header.Set("Connection", "close")
	in.Header.Set("X-Req", "1")

	out, err := BuildBackendRequest(in, "127.0.0.1:9000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Host != "127.0.0.1:9000" {
		t.Errorf("expected Host to fall back to backend address, got %s", out.Host)
	}
	if out.URL.String() != "http://127.0.0.1:9000/a" {
		t.Errorf("expected URI http://127.0.0.1:9000/a, got %s", out.URL.String())
	}
	if out.Header.Get("Connection") != "" {
		t.Error("expected Connection stripped")
	}
	if out.Header.Get("X-Req") != "1" {
		t.Error("expected X-Req preserved")
	}
}

func TestBuildBackendRequestRejectsOversizeBody(t *testing.T) {
	big := strings.NewReader(strings.Repeat("a", MaxBodyBytes+1))
	in := httptest.NewRequest(http.MethodPost, "https://edge.example.com/upload", big)

	_, err := BuildBackendRequest(in, "10.0.0.5:8080")
	if err != ErrBodyTooLarge {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestBuildBackendRequestNoBodyOmitsContentLength(t *testing.T) {
	in := httptest.NewRequest(http.MethodGet, "https://edge.example.com/", nil)
	out, err := BuildBackendRequest(in, "10.0.0.5:8080")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Header.Get("Content-Length") != "" {
		t.Errorf("expected no Content-Length for empty body, got %s", out.Header.Get("Content-Length"))
	}
}

func TestCopyResponseStripsHopByHopAndBuffersBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{"Connection": []string{"keep-alive"}, "X-Upstream": []string{"v1"}},
		Body:       io.NopCloser(strings.NewReader("payload")),
	}

	out, err := CopyResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.StatusCode != 200 {
		t.Errorf("expected status 200, got %d", out.StatusCode)
	}
	if out.Header.Get("Connection") != "" {
		t.Error("expected Connection header stripped from response")
	}
	if out.Header.Get("X-Upstream") != "v1" {
		t.Error("expected non-hop-by-hop header preserved")
	}
	if string(out.Body) != "payload" {
		t.Errorf("expected body 'payload', got %q", out.Body)
	}
	if out.Header.Get("Content-Length") != "7" {
		t.Errorf("expected recomputed Content-Length 7, got %s", out.Header.Get("Content-Length"))
	}
}

func TestCopyResponseRejectsOversizeBody(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("b", MaxBodyBytes+1))),
	}
	_, err := CopyResponse(resp)
	if err != ErrBodyTooLarge {
		t.Errorf("expected ErrBodyTooLarge, got %v", err)
	}
}
