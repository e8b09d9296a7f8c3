package shellcache

import (
	"github.com/ericselin/shell-cache/cache"
)

// Status is a snapshot of the lifecycle and the stored partitions.
type Status struct {
	// The configured generation.
	Generation string `json:"generation"`
	// The generation serving requests.
	Current     string            `json:"current"`
	Installed   bool              `json:"installed"`
	Generations map[string]State  `json:"generations"`
	Partitions  []PartitionStatus `json:"partitions"`
}

type PartitionStatus struct {
	Name string `json:"name"`
	// Empty for partitions not created by this manager.
	Generation string `json:"generation,omitempty"`
	Entries    int    `json:"entries"`
}

// Status returns the current lifecycle state and the number of stored
// responses of every partition. Partitions that cannot be read are reported with -1 entries.
func (m *Manager) Status() (Status, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	status := Status{
		Generation:  m.generation,
		Current:     m.current,
		Installed:   m.installed,
		Generations: make(map[string]State, len(m.states)),
	}
	for gen, state := range m.states {
		status.Generations[gen] = state
	}

	names, err := m.store.Names()
	if err != nil {
		return status, err
	}
	status.Partitions = make([]PartitionStatus, 0, len(names))
	for _, name := range names {
		ps := PartitionStatus{Name: name, Entries: -1}
		ps.Generation, _ = m.names.generationOf(name)
		// the partition exists, opening it does not create anything
		if p, err := m.store.Open(name); err != nil {
			m.log.Error().Err(err).Str("partition", name).Msg("Could not open partition")
		} else if n, err := countEntries(p); err != nil {
			m.log.Error().Err(err).Str("partition", name).Msg("Could not count entries")
		} else {
			ps.Entries = n
		}
		status.Partitions = append(status.Partitions, ps)
	}
	return status, nil
}

// countEntries counts the stored responses, leaving out lifecycle markers.
func countEntries(p cache.Partition) (int, error) {
	n := 0
	err := p.Keys(func(key string) {
		if !markerKey(key) {
			n++
		}
	})
	return n, err
}
