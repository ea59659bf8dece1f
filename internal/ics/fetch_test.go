package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFetchOneUsesETagCache(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(singleEventBody()))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(t.TempDir(), time.Second)
	src := Source{ID: "team", URL: srv.URL + "/team.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.False(t, first.FromCache)

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Equal(t, first.Body, second.Body)
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchOneFallsBackToCacheOnServerError(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(singleEventBody()))
	}))
	t.Cleanup(srv.Close)

	f := NewFetcher(t.TempDir(), time.Second)
	src := Source{ID: "team", URL: srv.URL + "/team.ics"}

	_, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)

	fail.Store(true)
	res, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.True(t, res.FromCache)

	_, err = f.FetchOne(context.Background(), Source{ID: "other", URL: srv.URL + "/other.ics"})
	require.Error(t, err)
}

func TestFetchOneReadsLocalFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "local.ics")
	require.NoError(t, os.WriteFile(path, []byte(singleEventBody()), 0o600))

	f := NewFetcher(t.TempDir(), 0)
	for _, u := range []string{path, "file://" + path} {
		res, err := f.FetchOne(context.Background(), Source{ID: "local", URL: u})
		require.NoError(t, err)
		require.Equal(t, singleEventBody(), string(res.Body))
	}

	_, err := f.FetchOne(context.Background(), Source{ID: "missing", URL: filepath.Join(t.TempDir(), "missing.ics")})
	require.Error(t, err)
	_, err = f.FetchOne(context.Background(), Source{ID: "blank", URL: " "})
	require.Error(t, err)
}

func TestFetchOneRevalidatesWithLastModified(t *testing.T) {
	t.Parallel()

	const stamp = "Fri, 29 Aug 2025 08:00:00 GMT"
	var conditional atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-Modified-Since") == stamp {
			conditional.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", stamp)
		_, _ = w.Write([]byte(singleEventBody()))
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	src := Source{ID: "team", URL: srv.URL + "/team.ics"}

	_, err := NewFetcher(dir, time.Second).FetchOne(context.Background(), src)
	require.NoError(t, err)

	// A new Fetcher on the same directory reuses the stored validators.
	res, err := NewFetcher(dir, time.Second).FetchOne(context.Background(), src)
	require.NoError(t, err)
	require.True(t, res.FromCache)
	require.Equal(t, singleEventBody(), string(res.Body))
	require.EqualValues(t, 1, conditional.Load())
}

func TestFetchOneNotModifiedWithoutCacheFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	t.Cleanup(srv.Close)

	_, err := NewFetcher(t.TempDir(), time.Second).FetchOne(context.Background(), Source{ID: "team", URL: srv.URL})
	require.Error(t, err)
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/...(redacted)", redactURL("https://example.com/path/private.ics?token=abcd"))
	require.Equal(t, "feed://...(redacted)", redactURL("/etc/calendars/team.ics"))
}
