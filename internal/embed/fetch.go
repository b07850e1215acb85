// Package embed fetches remote images and converts them into inline base64
// data URIs so HTML and PDF output stays readable offline.
package embed

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// ErrTooLarge is the only hard failure of the pipeline; every other problem
// degrades to an unembedded result.
var ErrTooLarge = errors.New("image exceeds size limit")

// Result carries either the embedded artifact or an explicit unembedded
// outcome with its reason. Strict-mode policy is applied by the caller, not
// here.
type Result struct {
	Embedded    bool
	DataURI     string
	ContentType string
	Reason      string
}

func unembedded(reason string) Result {
	return Result{Reason: reason}
}

// Fetcher retrieves image bytes with a bounded timeout and payload cap.
type Fetcher struct {
	client    *http.Client
	maxBytes  int64
	allowHTTP bool
}

func NewFetcher(timeout time.Duration, maxBytes int64, allowHTTP bool) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		maxBytes:  maxBytes,
		allowHTTP: allowHTTP,
	}
}

// Fetch retrieves rawURL and base64-encodes the bytes into a data URI. It
// issues a plain GET rather than a HEAD probe; some image hosts reject
// metadata-only requests. Oversized payloads abort as soon as the limit is
// crossed and return ErrTooLarge; any other failure comes back as an
// unembedded Result with a nil error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Result, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return unembedded("image_url is not a valid URL"), nil
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if !f.allowHTTP {
			return unembedded("image_url must use https"), nil
		}
	default:
		return unembedded(fmt.Sprintf("unsupported URL scheme %q", parsed.Scheme)), nil
	}
	if parsed.Host == "" {
		return unembedded("image_url has no host"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return unembedded("image_url is not a valid URL"), nil
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return unembedded("fetch failed: " + err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return unembedded(fmt.Sprintf("fetch returned status %d", resp.StatusCode)), nil
	}
	if resp.ContentLength > f.maxBytes {
		return Result{}, ErrTooLarge
	}

	// Read one byte past the cap so a missing Content-Length still trips the
	// limit without downloading the whole payload.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return unembedded("read failed: " + err.Error()), nil
	}
	if int64(len(data)) > f.maxBytes {
		return Result{}, ErrTooLarge
	}
	if len(data) == 0 {
		return unembedded("fetch returned an empty body"), nil
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return unembedded(fmt.Sprintf("payload is %s, not an image", detected.String())), nil
	}

	return Result{
		Embedded:    true,
		DataURI:     "data:" + detected.String() + ";base64," + base64.StdEncoding.EncodeToString(data),
		ContentType: detected.String(),
	}, nil
}
