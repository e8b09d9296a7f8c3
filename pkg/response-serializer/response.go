package serializer

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ericselin/shell-cache/rfc9111"
)

const (
	responseTimeHeaderName = "Shell-Cache-Response-Time"
	requestTimeHeaderName  = "Shell-Cache-Request-Time"
)

type StoredResponse struct {
	Response *http.Response
	// The value of the clock at the time of the request that resulted in the stored response.
	// Needed for age calculation.
	RequestTime time.Time
	// The value of the clock at the time the response was received.
	// Needed for age calculation.
	ResponseTime time.Time
}

// Encode returns the HTTP/1.1 representation of the stored response,
// with the timing kept in extra headers.
// The body of the response is buffered and set back, so the response
// can still be sent after encoding.
func Encode(sRes StoredResponse) ([]byte, error) {
	res := sRes.Response
	if res == nil {
		return nil, fmt.Errorf("no response to encode")
	}
	body, err := drainBody(res)
	if err != nil {
		return nil, err
	}

	// write a copy, the caller's response keeps its headers
	wire := *res
	wire.ProtoMajor, wire.ProtoMinor = 1, 1
	wire.Header = rfc9111.StorableHeader(res.Header)
	wire.Header.Set(responseTimeHeaderName, strconv.FormatInt(sRes.ResponseTime.UnixNano(), 10))
	wire.Header.Set(requestTimeHeaderName, strconv.FormatInt(sRes.RequestTime.UnixNano(), 10))
	wire.Body = io.NopCloser(bytes.NewReader(body))
	wire.ContentLength = int64(len(body))
	wire.TransferEncoding = nil
	wire.Trailer = nil
	wire.Close = false

	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, fmt.Errorf("write response: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads a stored response encoded with Encode.
// The request is the one the response is for, it is needed to e.g. read
// HEAD responses correctly. The body is fully read into memory.
func Decode(b []byte, req *http.Request) (StoredResponse, error) {
	sRes := StoredResponse{}
	res, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(b)), req)
	if err != nil {
		return sRes, fmt.Errorf("read response: %w", err)
	}
	body, err := drainBody(res)
	if err != nil {
		return sRes, err
	}
	res.ContentLength = int64(len(body))
	sRes.Response = res

	resTime, err := strconv.ParseInt(res.Header.Get(responseTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("response time: %w", err)
	}
	reqTime, err := strconv.ParseInt(res.Header.Get(requestTimeHeaderName), 10, 64)
	if err != nil {
		return sRes, fmt.Errorf("request time: %w", err)
	}
	sRes.ResponseTime = time.Unix(0, resTime)
	sRes.RequestTime = time.Unix(0, reqTime)
	// delete extra headers
	res.Header.Del(responseTimeHeaderName)
	res.Header.Del(requestTimeHeaderName)
	return sRes, nil
}

// drainBody reads the whole body and replaces it with an in-memory copy.
func drainBody(res *http.Response) ([]byte, error) {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return nil, nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
