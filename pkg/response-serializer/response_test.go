package serializer

import (
	"bufio"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBodyIntact(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nServer: Test\r\n\r\nThis is the body"

	res, err := http.ReadResponse(bufio.NewReader(strings.NewReader(response)), nil)
	require.NoError(t, err)

	_, err = Encode(StoredResponse{Response: res, RequestTime: time.Now(), ResponseTime: time.Now()})
	require.NoError(t, err)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, "This is the body", string(body))
	assert.Empty(t, res.Header.Get(responseTimeHeaderName), "caller headers must not change")
}

func TestStoredResponseRoundTrip(t *testing.T) {
	// binary body with bytes that look like line endings
	payload := []byte{0x00, 0x0d, 0x0a, 0x0d, 0x0a, 0xff, 'g', 'l', 'b'}
	rec := httptest.NewRecorder()
	rec.Header().Set("Content-Type", "model/gltf-binary")
	rec.Header().Add("X-Test", "-ing")
	rec.WriteHeader(http.StatusOK)
	rec.Write(payload)
	res := rec.Result()

	reqTime := time.Now()
	resTime := reqTime.Add(time.Second)
	bts, err := Encode(StoredResponse{
		Response:     res,
		RequestTime:  reqTime,
		ResponseTime: resTime,
	})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/models/rig.glb", nil)
	decoded, err := Decode(bts, req)
	require.NoError(t, err)

	body, err := io.ReadAll(decoded.Response.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, body)
	assert.Equal(t, http.StatusOK, decoded.Response.StatusCode)
	assert.Equal(t, "-ing", decoded.Response.Header.Get("X-Test"))
	assert.Equal(t, "model/gltf-binary", decoded.Response.Header.Get("Content-Type"))
	assert.Empty(t, decoded.Response.Header.Get(responseTimeHeaderName))
	assert.Empty(t, decoded.Response.Header.Get(requestTimeHeaderName))
	assert.True(t, decoded.RequestTime.Equal(reqTime))
	assert.True(t, decoded.ResponseTime.Equal(resTime))
}

func TestHeadResponseRoundTrip(t *testing.T) {
	req := httptest.NewRequest("HEAD", "/index.html", nil)
	res := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       http.NoBody,
		Request:    req,
	}
	bts, err := Encode(StoredResponse{Response: res, RequestTime: time.Now(), ResponseTime: time.Now()})
	require.NoError(t, err)

	decoded, err := Decode(bts, req)
	require.NoError(t, err)
	assert.Equal(t, "text/html", decoded.Response.Header.Get("Content-Type"))
	body, err := io.ReadAll(decoded.Response.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not a response"), nil)
	assert.Error(t, err)
}
