package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	shellcache "github.com/ericselin/shell-cache"
	"github.com/ericselin/shell-cache/cache"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestRouter(t *testing.T, offline *atomic.Bool) http.Handler {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if offline.Load() {
			return nil, errors.New("offline")
		}
		body := "content of " + r.URL.Path
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{"Content-Type": {"text/plain"}},
			Body:          io.NopCloser(strings.NewReader(body)),
			ContentLength: int64(len(body)),
			Request:       r,
		}, nil
	})
	logger := zerolog.Nop()
	m, err := shellcache.New(shellcache.Config{
		Store:      cache.NewMemStore(),
		Transport:  transport,
		Origin:     &url.URL{Scheme: "http", Host: "app.test"},
		Generation: "v1",
		Manifest:   []string{"/", "/app.css"},
		Logger:     &logger,
	})
	require.NoError(t, err)
	return newRouter(m)
}

func TestAdminLifecycle(t *testing.T) {
	var offline atomic.Bool
	router := newTestRouter(t, &offline)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/.shell-cache/install", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/.shell-cache/activate", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"current":"v1"`)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/.shell-cache/status", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var status shellcache.Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &status))
	assert.Equal(t, "v1", status.Current)
	assert.True(t, status.Installed)
	require.Len(t, status.Partitions, 1)
	assert.Equal(t, "shell-cache-v1-shell", status.Partitions[0].Name)
	assert.Equal(t, 2, status.Partitions[0].Entries)
}

func TestAdminInstallFailure(t *testing.T) {
	var offline atomic.Bool
	offline.Store(true)
	router := newTestRouter(t, &offline)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/.shell-cache/install", nil))
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Contains(t, rr.Body.String(), "/app.css")
}

func TestRouterProxiesEverythingElse(t *testing.T) {
	var offline atomic.Bool
	router := newTestRouter(t, &offline)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/levels/1.json", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "content of /levels/1.json", rr.Body.String())

	offline.Store(true)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/levels/1.json", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "content of /levels/1.json", rr.Body.String())
	assert.Equal(t, "ShellCache; hit; detail=runtime", rr.Header().Get("Cache-Status"))
}
