package rfc9111

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func storable(method string, status int, cacheControl string) bool {
	req, _ := http.NewRequest(method, "http://localhost/", nil)
	res := &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Request:    req,
	}
	if cacheControl != "" {
		res.Header.Set("Cache-Control", cacheControl)
	}
	return !MustNotStore(res)
}

func TestMustNotStore(t *testing.T) {
	assert.True(t, storable("GET", 200, ""))
	assert.True(t, storable("HEAD", 200, "max-age=0"))
	assert.True(t, storable("GET", 204, "no-cache"))
	assert.False(t, storable("POST", 200, ""))
	assert.False(t, storable("GET", 206, ""))
	assert.False(t, storable("GET", 404, ""))
	assert.False(t, storable("GET", 503, ""))
	assert.False(t, storable("GET", 200, "public, no-store"))
	assert.True(t, MustNotStore(&http.Response{StatusCode: 200}), "no request")
}

func TestAddAgeHeader(t *testing.T) {
	fixed := time.Now()
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	res := &http.Response{Header: make(http.Header)}
	res.Header.Set("Date", ToHttpDate(fixed.Add(-time.Minute)))
	received := fixed.Add(-30 * time.Second)
	requested := received.Add(-2 * time.Second)

	AddAgeHeader(res, received, requested)
	// apparent age 30s (date 60s before now, received 30s before now) + 30s resident
	assert.Equal(t, "60", res.Header.Get("Age"))
}

func TestAddAgeHeaderWithoutDate(t *testing.T) {
	fixed := time.Now()
	now = func() time.Time { return fixed }
	defer func() { now = time.Now }()

	res := &http.Response{Header: make(http.Header)}
	res.Header.Set("Age", "100")
	received := fixed.Add(-10 * time.Second)

	AddAgeHeader(res, received, received)
	assert.Equal(t, "110", res.Header.Get("Age"))
}

func TestStorableHeader(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Type", "text/html")
	h.Set("Connection", "keep-alive, X-Hop")
	h.Set("X-Hop", "1")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")

	stored := StorableHeader(h)
	assert.Equal(t, "text/html", stored.Get("Content-Type"))
	assert.Empty(t, stored.Get("Connection"))
	assert.Empty(t, stored.Get("X-Hop"))
	assert.Empty(t, stored.Get("Keep-Alive"))
	assert.Empty(t, stored.Get("Transfer-Encoding"))
	assert.Equal(t, "1", h.Get("X-Hop"), "original header untouched")
}

func TestGetForwardRequest(t *testing.T) {
	req, _ := http.NewRequest("GET", "http://localhost/index.html", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Accept", "text/html")

	fwd := GetForwardRequest(req)
	assert.Empty(t, fwd.Header.Get("Upgrade"))
	assert.Empty(t, fwd.Header.Get("Connection"))
	assert.Equal(t, "text/html", fwd.Header.Get("Accept"))
	assert.Equal(t, "websocket", req.Header.Get("Upgrade"))
}
