package embed

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

// Minimal valid PNG: signature, IHDR for a 1x1 image, and IEND.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 'I', 'H', 'D', 'R',
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89,
	0x00, 0x00, 0x00, 0x00, 'I', 'E', 'N', 'D',
	0xae, 0x42, 0x60, 0x82,
}

func newTestFetcher(maxBytes int64) *Fetcher {
	// The httptest server only speaks plain HTTP.
	return NewFetcher(2*time.Second, maxBytes, true)
}

func TestFetchEmbedsImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("fetch used %s, want GET", r.Method)
		}
		w.Write(tinyPNG)
	}))
	defer srv.Close()

	result, err := newTestFetcher(1 << 20).Fetch(context.Background(), srv.URL+"/logo.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !result.Embedded {
		t.Fatalf("not embedded, reason: %s", result.Reason)
	}
	if result.ContentType != "image/png" {
		t.Errorf("content type = %s, want image/png", result.ContentType)
	}
	if !strings.HasPrefix(result.DataURI, "data:image/png;base64,") {
		t.Errorf("data URI = %.40s..., want data:image/png;base64, prefix", result.DataURI)
	}
}

func TestFetchRejectsPlainHTTPByDefault(t *testing.T) {
	fetcher := NewFetcher(time.Second, 1<<20, false)
	result, err := fetcher.Fetch(context.Background(), "http://example.com/a.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Embedded {
		t.Fatal("plain http URL was embedded with allowHTTP disabled")
	}
	if !strings.Contains(result.Reason, "https") {
		t.Errorf("reason = %q, want mention of https", result.Reason)
	}
}

func TestFetchRejectsUnsupportedScheme(t *testing.T) {
	result, err := newTestFetcher(1 << 20).Fetch(context.Background(), "ftp://example.com/a.png")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Embedded || result.Reason == "" {
		t.Fatalf("result = %+v, want unembedded with reason", result)
	}
}

func TestFetchTooLargeByContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(1<<20))
		w.Write(bytes.Repeat([]byte{0}, 1<<20))
	}))
	defer srv.Close()

	_, err := newTestFetcher(1024).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Fetch() = %v, want ErrTooLarge", err)
	}
}

func TestFetchTooLargeByBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response, no Content-Length header.
		flusher := w.(http.Flusher)
		chunk := bytes.Repeat([]byte{0x42}, 512)
		for i := 0; i < 8; i++ {
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	_, err := newTestFetcher(1024).Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("Fetch() = %v, want ErrTooLarge", err)
	}
}

func TestFetchNonImageDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html><body>not an image</body></html>"))
	}))
	defer srv.Close()

	result, err := newTestFetcher(1 << 20).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Embedded {
		t.Fatal("non-image payload was embedded")
	}
	if !strings.Contains(result.Reason, "not an image") {
		t.Errorf("reason = %q, want mention of non-image payload", result.Reason)
	}
}

func TestFetchNotFoundDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	result, err := newTestFetcher(1 << 20).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Embedded {
		t.Fatal("404 response was embedded")
	}
	if !strings.Contains(result.Reason, "404") {
		t.Errorf("reason = %q, want status 404 mentioned", result.Reason)
	}
}

func TestFetchUnreachableHostDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	result, err := newTestFetcher(1 << 20).Fetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if result.Embedded || result.Reason == "" {
		t.Fatalf("result = %+v, want unembedded with reason", result)
	}
}
