package shellcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ericselin/shell-cache/cache"
	cachekey "github.com/ericselin/shell-cache/pkg/cache-key"
	serializer "github.com/ericselin/shell-cache/pkg/response-serializer"
	"github.com/ericselin/shell-cache/pkg/strategy"
	"github.com/ericselin/shell-cache/rfc9111"
	"github.com/ericselin/shell-cache/rfc9211"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// partitions of the serving generation, resolved once per request.
// A nil partition could not be opened and is treated as empty.
type partitions struct {
	generation string
	shell      cache.Partition
	runtime    cache.Partition
}

// Intercept answers the request. It never fails: when neither the network
// nor a partition can answer, the terminal error response is returned.
//
// Requests with other methods than GET and HEAD go to the network as they
// are, without touching any partition.
func (m *Manager) Intercept(ctx context.Context, r *http.Request) (res *http.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			m.log.Error().Interface("panic", rec).Str("url", r.URL.String()).Msg("Recovered in intercept")
			res = errorResponse(r)
		}
	}()

	if !cachekey.Retrieval(r.Method) {
		return m.passThrough(ctx, r)
	}
	key, err := m.keyer.Key(r)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not compute request identity")
		return m.passThrough(ctx, r)
	}
	req, err := m.forwardRequest(ctx, r, true)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not create forward request")
		return errorResponse(r)
	}

	parts := m.partitions()
	l := m.log.With().Str("key", key).Str("serving", parts.generation).Logger()
	switch m.rules.Find(req, l) {
	case strategy.StaleWhileRevalidate:
		return m.staleWhileRevalidate(l, req, key, parts)
	default:
		return m.networkFirst(l, req, key, parts)
	}
}

// networkFirst prefers the network; successful responses are stored in the
// runtime partition. Only when the network cannot be reached the runtime
// partition and then the shell partition are consulted.
func (m *Manager) networkFirst(l zerolog.Logger, req *http.Request, key string, parts partitions) *http.Response {
	cs := rfc9211.CacheStatus{}
	sRes, err := m.fetch(req)
	if err == nil {
		cs.Forward(rfc9211.FwdReasonBypass)
		cs.FwdStatus = sRes.Response.StatusCode
		cs.Stored = m.put(l, parts.runtime, key, sRes)
		cs.Detail = strategy.NetworkFirst.String()
		return respond(l, sRes.Response, cs)
	}
	l.Debug().Err(err).Msg("Network failed, falling back to partitions")

	if res, ok := m.lookup(l, parts.runtime, key, req); ok {
		cs.Hit()
		cs.Detail = "runtime"
		return respond(l, res, cs)
	}
	if res, ok := m.lookup(l, parts.shell, key, req); ok {
		cs.Hit()
		cs.Detail = "shell"
		return respond(l, res, cs)
	}
	l.Debug().Msg("Nothing stored, sending error response")
	return errorResponse(req)
}

// staleWhileRevalidate answers from the runtime partition when possible and
// refreshes the entry in the background. On a miss it waits for the network.
func (m *Manager) staleWhileRevalidate(l zerolog.Logger, req *http.Request, key string, parts partitions) *http.Response {
	cs := rfc9211.CacheStatus{}
	if res, ok := m.lookup(l, parts.runtime, key, req); ok {
		m.refresh(l, req, key, parts.runtime)
		cs.Hit()
		cs.Detail = "runtime"
		return respond(l, res, cs)
	}
	sRes, err := m.fetch(req)
	if err != nil {
		l.Debug().Err(err).Msg("Network failed on miss, sending error response")
		return errorResponse(req)
	}
	cs.Forward(rfc9211.FwdReasonUriMiss)
	cs.FwdStatus = sRes.Response.StatusCode
	cs.Stored = m.put(l, parts.runtime, key, sRes)
	return respond(l, sRes.Response, cs)
}

// passThrough sends a request the cache does not handle to the network.
func (m *Manager) passThrough(ctx context.Context, r *http.Request) *http.Response {
	req, err := m.forwardRequest(ctx, r, false)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not create pass-through request")
		return errorResponse(r)
	}
	res, err := m.transport.RoundTrip(req)
	if err != nil {
		m.log.Debug().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("Pass-through failed")
		return errorResponse(req)
	}
	m.log.Trace().Str("method", req.Method).Str("url", req.URL.String()).Int("status", res.StatusCode).Msg("Passed through")
	return res
}

// forwardRequest returns the request to send to the network, with an
// absolute URL. Hop-by-hop fields are removed for retrieval requests only.
func (m *Manager) forwardRequest(ctx context.Context, r *http.Request, retrieval bool) (*http.Request, error) {
	u, err := m.keyer.Resolve(r.URL)
	if err != nil {
		return nil, err
	}
	var req *http.Request
	if retrieval {
		req = rfc9111.GetForwardRequest(r.WithContext(ctx))
	} else {
		req = r.Clone(ctx)
	}
	req.URL = u
	req.RequestURI = ""
	return req, nil
}

// partitions opens the partitions of the serving generation.
// The read lock keeps activation from deleting them while they are opened.
func (m *Manager) partitions() partitions {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	parts := partitions{generation: m.current}
	var err error
	if parts.shell, err = m.store.Open(m.names.shell(m.current)); err != nil {
		m.log.Error().Err(err).Msg("Could not open shell partition")
		parts.shell = nil
	}
	if parts.runtime, err = m.store.Open(m.names.runtime(m.current)); err != nil {
		m.log.Error().Err(err).Msg("Could not open runtime partition")
		parts.runtime = nil
	}
	return parts
}

// fetch sends the request to the network, recording the timing needed for
// age calculation.
func (m *Manager) fetch(req *http.Request) (serializer.StoredResponse, error) {
	sRes := serializer.StoredResponse{RequestTime: time.Now()}
	res, err := m.transport.RoundTrip(req)
	sRes.ResponseTime = time.Now()
	if err != nil {
		return sRes, err
	}
	if res.Header == nil {
		res.Header = make(http.Header)
	}
	if err := bufferBody(res); err != nil {
		return sRes, err
	}
	// the origin should set this header, but make sure it's there
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", rfc9111.ToHttpDate(sRes.ResponseTime))
	}
	res.Request = req
	sRes.Response = res
	return sRes, nil
}

// bufferBody reads the whole body into memory. A body cut off by the network
// fails the fetch like an unreachable network does.
func bufferBody(res *http.Response) error {
	if res.Body == nil || res.Body == http.NoBody {
		res.Body = http.NoBody
		return nil
	}
	body, err := io.ReadAll(res.Body)
	res.Body.Close()
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	if res.ContentLength < 0 {
		res.ContentLength = int64(len(body))
	}
	return nil
}

// lookup reads the stored response for the key. Read failures are misses.
func (m *Manager) lookup(l zerolog.Logger, p cache.Partition, key string, req *http.Request) (*http.Response, bool) {
	if p == nil {
		return nil, false
	}
	entry, ok, err := p.Get(key)
	if err != nil {
		l.Error().Err(err).Str("partition", p.Name()).Msg("Could not read partition")
		return nil, false
	}
	if !ok {
		l.Trace().Str("partition", p.Name()).Msg("Not stored")
		return nil, false
	}
	sRes, err := serializer.Decode(entry.Bytes, req)
	if err != nil {
		l.Error().Err(err).Str("partition", p.Name()).Msg("Could not decode stored response")
		return nil, false
	}
	res := sRes.Response
	res.Request = req
	rfc9111.AddAgeHeader(res, sRes.ResponseTime, sRes.RequestTime)
	return res, true
}

// put stores the response if it may be stored at all.
// Write failures are logged, the response is still usable.
func (m *Manager) put(l zerolog.Logger, p cache.Partition, key string, sRes serializer.StoredResponse) bool {
	if p == nil || rfc9111.MustNotStore(sRes.Response) {
		return false
	}
	b, err := serializer.Encode(sRes)
	if err != nil {
		l.Error().Err(err).Msg("Could not encode response")
		return false
	}
	if err := p.Put(cache.Entry{Key: key, StoredAt: sRes.ResponseTime, Bytes: b}); err != nil {
		if errors.Is(err, cache.ErrPartitionDeleted) {
			l.Debug().Str("partition", p.Name()).Msg("Partition deleted while in flight, not stored")
		} else {
			l.Error().Err(err).Str("partition", p.Name()).Msg("Could not store response")
		}
		return false
	}
	l.Trace().Str("partition", p.Name()).Str("size", humanize.Bytes(uint64(len(b)))).Msg("Stored response")
	return true
}

func respond(l zerolog.Logger, res *http.Response, cs rfc9211.CacheStatus) *http.Response {
	res.Header.Add("Cache-Status", cs.String())
	ev := l.Debug().
		Str("status", string(cs.Status)).
		Str("fwd", string(cs.FwdReason)).
		Bool("stored", cs.Stored).
		Int("code", res.StatusCode)
	if res.ContentLength >= 0 {
		ev = ev.Str("size", humanize.Bytes(uint64(res.ContentLength)))
	}
	ev.Msg("Responding")
	return res
}
