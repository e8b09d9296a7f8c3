package strategy

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// Strategy is the way a retrieval request is answered.
type Strategy int

const (
	// NetworkFirst asks the network and falls back to stored responses
	// only when the network fails.
	NetworkFirst Strategy = iota
	// StaleWhileRevalidate answers from the runtime partition right away
	// and refreshes the stored response in the background.
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

func Parse(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "network-first":
		return NetworkFirst, nil
	case "stale-while-revalidate", "heavy":
		return StaleWhileRevalidate, nil
	}
	return NetworkFirst, fmt.Errorf("unknown strategy %q", name)
}

func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type Rules []Rule

// Rule matches requests by path. Empty fields match everything.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Query    map[string]string `yaml:"query"`
	Strategy Strategy          `yaml:"strategy"`
}

// FromHeavyPrefixes returns rules routing every path with one of the
// prefixes to the stale-while-revalidate strategy.
func FromHeavyPrefixes(prefixes []string) Rules {
	rules := make(Rules, 0, len(prefixes))
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		rules = append(rules, Rule{Prefix: prefix, Strategy: StaleWhileRevalidate})
	}
	return rules
}

// Find returns the strategy of the first rule matching the request.
// Requests not matched by any rule are network first.
func (r Rules) Find(req *http.Request, l zerolog.Logger) Strategy {
	if rule := r.find(req, l); rule != nil {
		return rule.Strategy
	}
	return NetworkFirst
}

func (r Rules) find(req *http.Request, l zerolog.Logger) *Rule {
	l.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i, rule := range r {
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &r[i]
	}
	return nil
}
