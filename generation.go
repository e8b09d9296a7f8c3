package shellcache

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ericselin/shell-cache/cache"
)

// State is the lifecycle state of a generation.
// A generation only moves forward: pending, current, orphaned.
type State int

const (
	StatePending State = iota
	StateCurrent
	StateOrphaned
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateCurrent:
		return "current"
	case StateOrphaned:
		return "orphaned"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for _, state := range []State{StatePending, StateCurrent, StateOrphaned} {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

const (
	shellSuffix   = "-shell"
	runtimeSuffix = "-runtime"
)

// naming maps generations to partition names: <prefix>-<generation>-shell
// and <prefix>-<generation>-runtime.
type naming struct {
	prefix string
}

func (n naming) shell(generation string) string {
	return n.prefix + "-" + generation + shellSuffix
}

func (n naming) runtime(generation string) string {
	return n.prefix + "-" + generation + runtimeSuffix
}

// generationOf returns the generation a partition name belongs to.
// The boolean is false for names not following the naming scheme.
func (n naming) generationOf(name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, n.prefix+"-")
	if !ok {
		return "", false
	}
	for _, suffix := range []string{shellSuffix, runtimeSuffix} {
		if gen, ok := strings.CutSuffix(rest, suffix); ok && gen != "" {
			return gen, true
		}
	}
	return "", false
}

// generations returns the distinct generations found in the names, sorted.
func (n naming) generations(names []string) []string {
	seen := make(map[string]struct{})
	for _, name := range names {
		if gen, ok := n.generationOf(name); ok {
			seen[gen] = struct{}{}
		}
	}
	gens := make([]string, 0, len(seen))
	for gen := range seen {
		gens = append(gens, gen)
	}
	sort.Strings(gens)
	return gens
}

// Lifecycle markers, stored in the shell partition next to the precached
// responses. Request identities start with a method and a space, so these
// keys never collide with them.
const (
	installedKey = "shell-cache:installed"
	activatedKey = "shell-cache:activated"
)

func markerKey(key string) bool {
	return key == installedKey || key == activatedKey
}

// markers is what the shell partition of a generation says about it.
type markers struct {
	// every manifest resource was stored
	installed bool
	// zero if never activated
	activated time.Time
}

func readMarkers(shell cache.Partition) (markers, error) {
	var mk markers
	_, ok, err := shell.Get(installedKey)
	if err != nil {
		return mk, err
	}
	mk.installed = ok
	entry, ok, err := shell.Get(activatedKey)
	if err != nil {
		return mk, err
	}
	if ok {
		mk.activated = entry.StoredAt
	}
	return mk, nil
}

func mark(shell cache.Partition, key, generation string) error {
	return shell.Put(cache.Entry{Key: key, StoredAt: time.Now(), Bytes: []byte(generation)})
}
