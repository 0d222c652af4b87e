package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	appLog "stratusdash/internal/log"
)

const (
	// DefaultFetchTimeout bounds a single feed download.
	DefaultFetchTimeout = 10 * time.Second

	// maxFeedBytes caps the body we are willing to read from a feed.
	maxFeedBytes = 16 << 20
)

var errFeedTooLarge = fmt.Errorf("feed exceeds %d bytes", maxFeedBytes)

// FetchError reports a failed feed download: either a transport error or a
// non-2xx HTTP status.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", redactURL(e.URL), e.Err)
	}
	return fmt.Sprintf("fetch %s: unexpected status %s", redactURL(e.URL), e.Status)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher downloads iCal feeds over HTTP.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a Fetcher whose requests are bounded by timeout.
// A non-positive timeout selects DefaultFetchTimeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewFetcherWithClient wraps an existing client, e.g. one with a custom
// transport.
func NewFetcherWithClient(c *http.Client) *Fetcher {
	if c == nil {
		return NewFetcher(0)
	}
	return &Fetcher{client: c}
}

// Fetch performs a single GET of url and returns the body as UTF-8 text.
func (f *Fetcher) Fetch(ctx context.Context, url string) (string, error) {
	if url == "" {
		return "", &FetchError{URL: url, Err: errors.New("feed URL is empty")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "text/calendar, text/plain;q=0.9, */*;q=0.8")
	req.Header.Set("User-Agent", "stratusdash-calendar/1.0")

	appLog.Debug("ics fetch start", "url", redactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status, Err: err}
	}
	if len(body) > maxFeedBytes {
		return "", &FetchError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status, Err: errFeedTooLarge}
	}

	appLog.Debug("ics fetch success", "url", redactURL(url), "status", resp.StatusCode, "bytes", len(body))
	return decodeBody(body), nil
}

// decodeBody turns a feed payload into UTF-8 text, dropping a byte order
// mark and replacing invalid sequences.
func decodeBody(b []byte) string {
	s := strings.TrimPrefix(string(b), "\ufeff")
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return s
}

// redactURL hides sensitive parts of a feed URL for logging purposes.
// Private calendar links carry their secret in the path or query, so only
// scheme and host survive:
//
//	https://calendar.example.com/private/abcd/basic.ics?token=x
//	-> https://calendar.example.com/...(redacted)
func redactURL(u string) string {
	const redactedSuffix = "/...(redacted)"

	i := strings.Index(u, "://")
	if i == -1 {
		return "ics://...(redacted)"
	}
	rest := u[i+3:]
	if j := strings.IndexAny(rest, "/?#"); j != -1 {
		rest = rest[:j]
	}
	// Drop userinfo.
	if at := strings.LastIndex(rest, "@"); at != -1 {
		rest = rest[at+1:]
	}
	return u[:i+3] + rest + redactedSuffix
}

// RedactURL is the exported form of redactURL for other packages' logs.
func RedactURL(u string) string {
	return redactURL(u)
}
