package shellcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ericselin/shell-cache/cache"
	serializer "github.com/ericselin/shell-cache/pkg/response-serializer"
	"github.com/ericselin/shell-cache/rfc9111"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEmptyManifest    = errors.New("empty manifest")
	ErrCrossOrigin      = errors.New("resource not on origin")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrNotStorable      = errors.New("response not storable")
)

// ResourceError is the failure of a single manifest entry.
type ResourceError struct {
	Path string
	Err  error
}

func (e ResourceError) Error() string {
	return e.Path + ": " + e.Err.Error()
}

func (e ResourceError) Unwrap() error {
	return e.Err
}

// InstallError lists every manifest entry that could not be precached.
type InstallError struct {
	Generation string
	Failures   []ResourceError
}

func (e *InstallError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("install %s: %d resource(s) failed: %s", e.Generation, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *InstallError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

type precached struct {
	path string
	key  string
	res  serializer.StoredResponse
}

// Install precaches the manifest into the shell partition of the configured
// generation. The configured manifest is used if none is given.
// Either every resource is fetched successfully and stored, or an
// *InstallError is returned and the generation does not count as installed.
// Installing again overwrites the stored resources.
func (m *Manager) Install(ctx context.Context, manifest []string) error {
	if len(manifest) == 0 {
		manifest = m.manifest
	}
	if len(manifest) == 0 {
		return ErrEmptyManifest
	}
	started := time.Now()
	m.log.Info().Int("resources", len(manifest)).Msg("Installing generation")

	requests := make([]*http.Request, len(manifest))
	keys := make([]string, len(manifest))
	installErr := &InstallError{Generation: m.generation}
	for i, path := range manifest {
		req, err := m.manifestRequest(ctx, path)
		if err == nil {
			keys[i], err = m.keyer.ForPath(path)
		}
		if err != nil {
			installErr.Failures = append(installErr.Failures, ResourceError{Path: path, Err: err})
			continue
		}
		requests[i] = req
	}
	if len(installErr.Failures) > 0 {
		return installErr
	}

	results := make([]precached, len(manifest))
	var mutex sync.Mutex
	var g errgroup.Group
	g.SetLimit(installConcurrency)
	for i, req := range requests {
		g.Go(func() error {
			sRes, err := m.precache(req)
			if err != nil {
				mutex.Lock()
				installErr.Failures = append(installErr.Failures, ResourceError{Path: manifest[i], Err: err})
				mutex.Unlock()
				return nil
			}
			results[i] = precached{path: manifest[i], key: keys[i], res: sRes}
			return nil
		})
	}
	// failures are collected above, the group itself never fails
	_ = g.Wait()
	if len(installErr.Failures) > 0 {
		for _, r := range results {
			if r.res.Response != nil {
				r.res.Response.Body.Close()
			}
		}
		m.log.Error().Err(installErr).Msg("Install failed")
		return installErr
	}

	shell, err := m.store.Open(m.names.shell(m.generation))
	if err != nil {
		return fmt.Errorf("open shell partition: %w", err)
	}
	var size int
	for _, r := range results {
		b, err := serializer.Encode(r.res)
		if err != nil {
			installErr.Failures = append(installErr.Failures, ResourceError{Path: r.path, Err: err})
			continue
		}
		if err := shell.Put(cache.Entry{Key: r.key, StoredAt: r.res.ResponseTime, Bytes: b}); err != nil {
			installErr.Failures = append(installErr.Failures, ResourceError{Path: r.path, Err: err})
			continue
		}
		size += len(b)
	}
	if len(installErr.Failures) > 0 {
		m.log.Error().Err(installErr).Msg("Install failed")
		return installErr
	}
	// written last, a partially stored shell never counts as installed
	if err := mark(shell, installedKey, m.generation); err != nil {
		return fmt.Errorf("mark installed: %w", err)
	}

	m.mutex.Lock()
	m.installed = true
	m.mutex.Unlock()
	m.log.Info().
		Str("partition", shell.Name()).
		Str("size", humanize.Bytes(uint64(size))).
		Dur("took", time.Since(started)).
		Msg("Installed generation")
	return nil
}

func (m *Manager) manifestRequest(ctx context.Context, path string) (*http.Request, error) {
	u, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if !m.keyer.SameOrigin(u) {
		return nil, ErrCrossOrigin
	}
	abs, err := m.keyer.Resolve(u)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, abs.String(), nil)
}

// precache fetches a manifest resource, following redirects.
// Only storable responses are accepted.
func (m *Manager) precache(req *http.Request) (serializer.StoredResponse, error) {
	sRes := serializer.StoredResponse{RequestTime: time.Now()}
	res, err := m.client.Do(req)
	sRes.ResponseTime = time.Now()
	if err != nil {
		return sRes, err
	}
	// stored under the manifest identity, not the redirect target
	res.Request = req
	if res.StatusCode < 200 || res.StatusCode > 299 {
		res.Body.Close()
		return sRes, fmt.Errorf("%w: %s", ErrUnexpectedStatus, res.Status)
	}
	if rfc9111.MustNotStore(res) {
		res.Body.Close()
		return sRes, ErrNotStorable
	}
	if err := bufferBody(res); err != nil {
		return sRes, err
	}
	sRes.Response = res
	m.log.Trace().Str("url", req.URL.String()).Int("status", res.StatusCode).Msg("Fetched manifest resource")
	return sRes, nil
}
