package cachekey

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeyer(t *testing.T) Keyer {
	origin, err := url.Parse("http://dev.localhost:8080")
	require.NoError(t, err)
	return NewKeyer(origin)
}

func TestKeyIsAbsolute(t *testing.T) {
	keyer := testKeyer(t)
	r, _ := http.NewRequest("GET", "/status/nodes.json?x=1#top", nil)
	key, err := keyer.Key(r)
	require.NoError(t, err)
	assert.Equal(t, "GET http://dev.localhost:8080/status/nodes.json?x=1", key)
}

func TestKeyRootPath(t *testing.T) {
	keyer := testKeyer(t)
	r, _ := http.NewRequest("GET", "http://dev.localhost:8080", nil)
	key, err := keyer.Key(r)
	require.NoError(t, err)
	assert.Equal(t, "GET http://dev.localhost:8080/", key)

	manifestKey, err := keyer.ForPath("/")
	require.NoError(t, err)
	assert.Equal(t, key, manifestKey)
}

func TestKeyRejectsMutatingMethods(t *testing.T) {
	keyer := testKeyer(t)
	for _, method := range []string{"POST", "PUT", "PATCH", "DELETE"} {
		r, _ := http.NewRequest(method, "/", nil)
		_, err := keyer.Key(r)
		assert.ErrorIs(t, err, ErrMethodNotSupported, method)
	}
}

func TestHeadAndGetDiffer(t *testing.T) {
	keyer := testKeyer(t)
	get, _ := http.NewRequest("GET", "/", nil)
	head, _ := http.NewRequest("HEAD", "/", nil)
	getKey, _ := keyer.Key(get)
	headKey, _ := keyer.Key(head)
	assert.NotEqual(t, getKey, headKey)
}

func TestSameOrigin(t *testing.T) {
	keyer := testKeyer(t)
	for raw, want := range map[string]bool{
		"/index.html":                        true,
		"app.css":                            true,
		"http://dev.localhost:8080/x":        true,
		"http://DEV.localhost:8080/x":        true,
		"https://dev.localhost:8080/x":       false,
		"http://cdn.example.com/three.js":    false,
		"//cdn.example.com/protocol-relative": false,
	} {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, want, keyer.SameOrigin(u), raw)
	}
}
