package cache

import (
	"errors"
	"time"
)

// ErrPartitionDeleted is returned when writing through a handle whose
// partition has been deleted since it was opened.
var ErrPartitionDeleted = errors.New("partition deleted")

// Store is a set of named partitions holding serialized HTTP responses.
// Partition names are opaque to the store; the cache manager decides which
// generation a name belongs to.
//
// Implementations must be thread-safe!
type Store interface {
	// Open returns the partition with the given name, creating it if absent.
	Open(name string) (Partition, error)
	// Names returns the names of all partitions, sorted.
	Names() ([]string, error)
	// Delete removes the partition and all of its entries.
	// Deleting a partition that does not exist is not an error,
	// the boolean tells whether anything was removed.
	Delete(name string) (bool, error)
	// Close releases the resources held by the store.
	Close() error
}

// Partition is a key-value store of responses keyed by request identity.
//
// A handle stays usable after its partition is deleted: reads either see the
// entries as they were before deletion or miss, writes fail with
// ErrPartitionDeleted.
type Partition interface {
	Name() string
	// Get returns the entry stored for the key.
	// The boolean is false if there is no such entry.
	Get(key string) (Entry, bool, error)
	// Put stores the entry, overwriting any entry with the same key.
	Put(entry Entry) error
	// Keys calls the given callback for each key in the partition.
	Keys(cb func(string)) error
}

type Entry struct {
	Key      string
	StoredAt time.Time
	Bytes    []byte
}
