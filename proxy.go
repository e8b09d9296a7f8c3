package shellcache

import (
	"io"
	"net/http"

	"github.com/ericselin/shell-cache/rfc9111"
	"github.com/ericselin/shell-cache/rfc9211"

	"github.com/dustin/go-humanize"
)

// errorResponse is the terminal response for requests neither the network
// nor a partition could answer.
func errorResponse(req *http.Request) *http.Response {
	cs := rfc9211.CacheStatus{}
	cs.Forward(rfc9211.FwdReasonMiss)
	cs.Detail = "offline"
	header := make(http.Header)
	header.Set("Cache-Status", cs.String())
	return &http.Response{
		Status:        "504 Gateway Timeout",
		StatusCode:    http.StatusGatewayTimeout,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          http.NoBody,
		ContentLength: 0,
		Request:       req,
	}
}

// ServeHTTP implements the http.Handler interface.
// Requests are forwarded to the origin, intercepted on the way.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer m.recover(w, r)
	if m.keyer.Origin == nil {
		m.log.Error().Msg("No origin configured, cannot proxy")
		m.send(w, r, errorResponse(r))
		return
	}
	req := r.Clone(r.Context())
	direct(req, m.keyer.Origin.Scheme, m.keyer.Origin.Host)
	m.send(w, r, m.Intercept(r.Context(), req))
}

// direct rewrites the incoming request onto the origin.
func direct(req *http.Request, scheme, host string) {
	req.URL.Scheme = scheme
	req.URL.Host = host
	req.Host = host
	req.RequestURI = ""
	// https://github.com/golang/go/issues/16036
	if req.ContentLength == 0 {
		req.Body = nil
	}
}

func (m *Manager) send(w http.ResponseWriter, r *http.Request, res *http.Response) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), rfc9111.StorableHeader(res.Header))
	w.WriteHeader(res.StatusCode)
	if r.Method == http.MethodHead || res.Body == nil {
		return
	}
	bytesWritten, err := io.Copy(w, res.Body)
	if err != nil {
		m.log.Error().Err(err).Msg("Could not write response body to client")
	}
	m.log.Trace().Str("url", r.URL.String()).Msgf("Wrote body (%s)", humanize.Bytes(uint64(bytesWritten)))
}

// recover answers with the terminal error response if anything panics
// before the response was started.
func (m *Manager) recover(w http.ResponseWriter, r *http.Request) {
	if rec := recover(); rec != nil {
		m.log.Error().Interface("panic", rec).Str("url", r.URL.String()).Msg("Recovered in proxy")
		res := errorResponse(r)
		copyHeader(w.Header(), res.Header)
		w.WriteHeader(res.StatusCode)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		// remove default headers added by an upstream proxy
		// some clients do not like the presence of these headers in the response
		if k != "X-Forwarded-For" && k != "X-Forwarded-Proto" && k != "X-Forwarded-Host" {
			for _, v := range vv {
				dst.Add(k, v)
			}
		}
	}
}
