package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	appLog "calalarm/internal/log"
)

const (
	maxFeedSize         = 16 << 20
	defaultFetchTimeout = 15 * time.Second
)

// Source is one calendar feed: an http(s) URL, a file:// URL or a local path.
type Source struct {
	ID  string
	URL string
}

func (s Source) remote() bool {
	u, err := url.Parse(s.URL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

// FetchResult is the body of one feed and where it came from.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool
}

// validators are the revalidation headers remembered for a remote feed.
type validators struct {
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// Fetcher downloads calendar feeds. Remote feeds keep their last good body in
// a cache directory and are revalidated with If-None-Match/If-Modified-Since.
type Fetcher struct {
	client *http.Client
	dir    string
}

// NewFetcher caches remote feeds under cacheDir. A zero timeout means 15s.
func NewFetcher(cacheDir string, timeout time.Duration) *Fetcher {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "calalarm-feeds")
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Fetcher{client: &http.Client{Timeout: timeout}, dir: cacheDir}
}

// FetchOne returns the current body of src. A remote feed that cannot be
// reached, or answers with an error status, is served from the cache when a
// copy exists.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if strings.TrimSpace(src.URL) == "" {
		return FetchResult{}, errors.New("feed URL is empty")
	}
	if !src.remote() {
		return readFeedFile(src)
	}

	cache := f.cacheFor(src.URL)
	v, cached := cache.load()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if v.ETag != "" {
		req.Header.Set("If-None-Match", v.ETag)
	}
	if v.LastModified != "" {
		req.Header.Set("If-Modified-Since", v.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return serveCached(src, cached, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, fmt.Errorf("GET %s: 304 without a cached copy", redactURL(src.URL))
		}
		appLog.Debug("feed unchanged", "feed", src.ID)
		return FetchResult{Source: src, Body: cached, FromCache: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize+1))
		if err != nil {
			return serveCached(src, cached, err)
		}
		if len(body) > maxFeedSize {
			return serveCached(src, cached, fmt.Errorf("GET %s: body exceeds %d bytes", redactURL(src.URL), maxFeedSize))
		}
		fresh := validators{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			FetchedAt:    time.Now().UTC(),
		}
		if err := cache.store(fresh, body); err != nil {
			appLog.Warn("feed cache write failed", "feed", src.ID, "err", err)
		}
		appLog.Debug("feed downloaded", "feed", src.ID, "url", redactURL(src.URL), "bytes", len(body))
		return FetchResult{Source: src, Body: body}, nil

	default:
		return serveCached(src, cached, fmt.Errorf("GET %s: %s", redactURL(src.URL), resp.Status))
	}
}

func serveCached(src Source, cached []byte, cause error) (FetchResult, error) {
	if len(cached) == 0 {
		return FetchResult{}, cause
	}
	appLog.Warn("feed unavailable; serving cached copy", "feed", src.ID, "url", redactURL(src.URL), "err", cause)
	return FetchResult{Source: src, Body: cached, FromCache: true}, nil
}

func readFeedFile(src Source) (FetchResult, error) {
	path := src.URL
	if u, err := url.Parse(path); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	fh, err := os.Open(path)
	if err != nil {
		return FetchResult{}, err
	}
	defer fh.Close()
	body, err := io.ReadAll(io.LimitReader(fh, maxFeedSize+1))
	if err != nil {
		return FetchResult{}, err
	}
	if len(body) > maxFeedSize {
		return FetchResult{}, fmt.Errorf("%s: exceeds %d bytes", path, maxFeedSize)
	}
	return FetchResult{Source: src, Body: body}, nil
}

// feedCache is the pair of files kept for one feed URL.
type feedCache struct {
	body string
	meta string
}

func (f *Fetcher) cacheFor(rawURL string) feedCache {
	sum := sha256.Sum256([]byte(rawURL))
	key := hex.EncodeToString(sum[:8])
	return feedCache{
		body: filepath.Join(f.dir, key+".ics"),
		meta: filepath.Join(f.dir, key+".json"),
	}
}

// load returns the cached validators and body. Validators are only returned
// together with a body, so a lost body forces a full download.
func (c feedCache) load() (validators, []byte) {
	body, err := os.ReadFile(c.body)
	if err != nil || len(body) == 0 {
		return validators{}, nil
	}
	var v validators
	if data, err := os.ReadFile(c.meta); err == nil {
		_ = json.Unmarshal(data, &v)
	}
	return v, body
}

// store writes the body before the validators.
func (c feedCache) store(v validators, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(c.body), 0o700); err != nil {
		return err
	}
	if err := writeFileAtomic(c.body, body); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeFileAtomic(c.meta, data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".feed-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// redactURL keeps scheme and host; share links carry tokens in the path and
// query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "feed://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
