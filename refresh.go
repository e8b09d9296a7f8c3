package shellcache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ericselin/shell-cache/cache"
	"github.com/ericselin/shell-cache/rfc9111"

	"github.com/rs/zerolog"
)

// refresh fetches the request again in the background and overwrites the
// stored entry when the response can be stored.
// It is not cancelled with the request it was started for.
func (m *Manager) refresh(l zerolog.Logger, req *http.Request, key string, p cache.Partition) {
	bgReq := req.Clone(context.WithoutCancel(req.Context()))
	m.refreshes.Add(1)
	go func() {
		defer m.refreshes.Done()
		defer func() {
			if rec := recover(); rec != nil {
				m.report(l, fmt.Errorf("refresh %s: panic: %v", key, rec))
			}
		}()

		l.Trace().Msg("Refreshing in background")
		sRes, err := m.fetch(bgReq)
		if err != nil {
			m.report(l, fmt.Errorf("refresh %s: %w", key, err))
			return
		}
		defer sRes.Response.Body.Close()
		if rfc9111.MustNotStore(sRes.Response) {
			m.report(l, fmt.Errorf("refresh %s: %w: %s", key, ErrNotStorable, sRes.Response.Status))
			return
		}
		if !m.put(l, p, key, sRes) {
			m.report(l, fmt.Errorf("refresh %s: not stored", key))
			return
		}
		l.Debug().Msg("Refreshed in background")
	}()
}

// report logs a background failure and hands it to Errors() readers,
// dropping it if the channel is full.
func (m *Manager) report(l zerolog.Logger, err error) {
	l.Warn().Err(err).Msg("Background refresh failed")
	select {
	case m.errs <- err:
	default:
		l.Trace().Msg("Error channel full, dropping refresh error")
	}
}
