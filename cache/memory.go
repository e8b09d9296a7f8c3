package cache

import (
	"sort"
	"sync"
)

type memPartition struct {
	name    string
	mutex   sync.RWMutex
	entries map[string]Entry
	deleted bool
}

// MemStore keeps all partitions in process memory.
type MemStore struct {
	mutex      *sync.RWMutex
	partitions map[string]*memPartition
}

func NewMemStore() MemStore {
	return MemStore{
		mutex:      &sync.RWMutex{},
		partitions: make(map[string]*memPartition),
	}
}

func (m MemStore) Open(name string) (Partition, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		p = &memPartition{
			name:    name,
			entries: make(map[string]Entry),
		}
		m.partitions[name] = p
	}
	return p, nil
}

func (m MemStore) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m MemStore) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p, ok := m.partitions[name]
	if !ok {
		return false, nil
	}
	delete(m.partitions, name)
	// entries are left in place for handles still reading them
	p.mutex.Lock()
	p.deleted = true
	p.mutex.Unlock()
	return true, nil
}

func (m MemStore) Close() error {
	return nil
}

func (p *memPartition) Name() string {
	return p.name
}

func (p *memPartition) Get(key string) (Entry, bool, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	entry, ok := p.entries[key]
	return entry, ok, nil
}

func (p *memPartition) Put(entry Entry) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.deleted {
		return ErrPartitionDeleted
	}
	p.entries[entry.Key] = entry
	return nil
}

func (p *memPartition) Keys(cb func(string)) error {
	p.mutex.RLock()
	keys := make([]string, 0, len(p.entries))
	for key := range p.entries {
		keys = append(keys, key)
	}
	p.mutex.RUnlock()
	sort.Strings(keys)
	for _, key := range keys {
		cb(key)
	}
	return nil
}
