package shellcache

import (
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ericselin/shell-cache/cache"
	cachekey "github.com/ericselin/shell-cache/pkg/cache-key"
	"github.com/ericselin/shell-cache/pkg/strategy"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultNamePrefix = "shell-cache"
	// number of background errors kept for Errors() readers
	errorBufferSize = 64
	// concurrent manifest fetches during install
	installConcurrency = 4
)

type Config struct {
	// Storage for the partitions.
	Store cache.Store
	// Network used for all fetches. http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Origin of the application.
	// Relative request URLs and manifest entries are resolved against it,
	// and in proxy mode every request is forwarded to it.
	Origin *url.URL
	// Generation names the current set of partitions, e.g. a build tag.
	// Changing it starts a new generation on the next install and activate.
	Generation string
	// Prefix of all partition names. DefaultNamePrefix if empty.
	NamePrefix string
	// Resources precached by Install when it is called without a manifest.
	Manifest []string
	// Classification of requests. Requests not matched are network first.
	Rules strategy.Rules
	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

// Manager intercepts retrieval requests and answers them from the network
// or from the partitions of the current generation.
type Manager struct {
	store      cache.Store
	transport  http.RoundTripper
	client     *http.Client
	keyer      cachekey.Keyer
	names      naming
	generation string
	manifest   []string
	rules      strategy.Rules
	log        zerolog.Logger

	// lifecycle; lookups hold it for reading while opening partitions,
	// activation holds it for writing while switching and deleting
	mutex     sync.RWMutex
	current   string
	installed bool
	states    map[string]State

	refreshes sync.WaitGroup
	errs      chan error
}

// New creates the cache manager and resolves which generation currently
// serves requests, based on the partitions found in the store.
func New(config Config) (*Manager, error) {
	if config.Store == nil {
		return nil, errors.New("no store configured")
	}
	if config.Generation == "" {
		return nil, errors.New("no generation configured")
	}

	var logger zerolog.Logger
	if config.Logger == nil {
		logger = log.Logger
	} else {
		logger = *config.Logger
	}
	// create a child logger and add defaults
	logCtx := logger.With().Str("generation", config.Generation)
	if config.Origin != nil {
		logCtx = logCtx.Str("origin", config.Origin.String())
	}

	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	prefix := config.NamePrefix
	if prefix == "" {
		prefix = DefaultNamePrefix
	}

	m := &Manager{
		store:      config.Store,
		transport:  transport,
		client:     &http.Client{Transport: transport},
		keyer:      cachekey.NewKeyer(config.Origin),
		names:      naming{prefix: prefix},
		generation: config.Generation,
		manifest:   config.Manifest,
		rules:      config.Rules,
		log:        logCtx.Logger(),
		states:     make(map[string]State),
		errs:       make(chan error, errorBufferSize),
	}
	m.discover()
	return m, nil
}

// discover decides which generation serves until the next activation.
// The generation activated last keeps serving, even when later generations
// have been installed since. Without activation markers, a single other
// stored generation keeps serving. The configured generation counts as
// installed only once an install has stored every manifest resource.
func (m *Manager) discover() {
	m.current = m.generation

	names, err := m.store.Names()
	if err != nil {
		m.log.Error().Err(err).Msg("Could not list partitions, serving configured generation")
		m.states[m.generation] = StateCurrent
		return
	}
	stored := make(map[string]bool, len(names))
	for _, name := range names {
		stored[name] = true
	}

	var (
		others    []string
		active    string
		activated time.Time
	)
	for _, gen := range m.names.generations(names) {
		if gen != m.generation {
			others = append(others, gen)
			m.states[gen] = StatePending
		}
		// opening would create a missing shell partition
		if !stored[m.names.shell(gen)] {
			continue
		}
		mk, err := m.markers(gen)
		if err != nil {
			m.log.Error().Err(err).Str("stored", gen).Msg("Could not read lifecycle markers")
			continue
		}
		if gen == m.generation {
			m.installed = mk.installed
		}
		if mk.activated.After(activated) {
			active, activated = gen, mk.activated
		}
	}

	switch {
	case active != "":
		m.current = active
	case len(others) == 1:
		m.current = others[0]
	case len(others) > 1:
		m.log.Warn().Strs("stored", others).Msg("Several previous generations stored, none activated, serving configured generation")
	}
	if m.current != m.generation {
		m.states[m.generation] = StatePending
	}
	m.states[m.current] = StateCurrent
	m.log.Info().Str("current", m.current).Bool("installed", m.installed).Msg("Resolved serving generation")
}

func (m *Manager) markers(generation string) (markers, error) {
	shell, err := m.store.Open(m.names.shell(generation))
	if err != nil {
		return markers{}, err
	}
	return readMarkers(shell)
}

// Errors returns the channel background refresh failures are sent on.
// The failures are logged as well; when nobody reads, the oldest are kept
// and new ones are dropped.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

// Wait blocks until all background refreshes started so far have finished.
func (m *Manager) Wait() {
	m.refreshes.Wait()
}

// RoundTrip implements http.RoundTripper.
// It never returns an error, network failures that cannot be answered from
// a partition result in the terminal error response.
func (m *Manager) RoundTrip(r *http.Request) (*http.Response, error) {
	return m.Intercept(r.Context(), r), nil
}

// Current returns the generation serving requests.
func (m *Manager) Current() string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.current
}
