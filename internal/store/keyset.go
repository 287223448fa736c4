// Package store holds identity sets and the persistent metadata cache.
package store

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

const (
	// DefaultKeySetCapacity sizes the bloom filter of a new set; it grows past this on demand.
	DefaultKeySetCapacity = 1024
	// DefaultFalsePositiveRate is the bloom filter target rate.
	DefaultFalsePositiveRate = 0.001
)

// KeySet is a thread-safe string set fronted by a bloom filter.
// Unlike a cache it never evicts: membership answers must be exact.
type KeySet struct {
	keys              map[string]struct{}
	bloom             *bloom.BloomFilter
	mutex             sync.RWMutex
	capacity          int
	falsePositiveRate float64
}

// NewKeySet creates an empty set sized for capacity keys.
func NewKeySet(capacity int, falsePositiveRate float64) *KeySet {
	if capacity <= 0 {
		capacity = DefaultKeySetCapacity
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = DefaultFalsePositiveRate
	}

	return &KeySet{
		keys:              make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(capacity), falsePositiveRate),
		capacity:          capacity,
		falsePositiveRate: falsePositiveRate,
	}
}

// NewKeySetFrom creates a set holding keys.
func NewKeySetFrom(keys []string) *KeySet {
	ks := NewKeySet(len(keys)*2, DefaultFalsePositiveRate)
	ks.Load(keys)
	return ks
}

// Has checks if a key exists in the set.
func (ks *KeySet) Has(key string) bool {
	ks.mutex.RLock()
	defer ks.mutex.RUnlock()

	if !ks.bloom.TestString(key) {
		return false
	}

	_, exists := ks.keys[key]
	return exists
}

// Add adds a key and reports whether it was new.
func (ks *KeySet) Add(key string) bool {
	if key == "" {
		return false
	}

	ks.mutex.Lock()
	defer ks.mutex.Unlock()

	if _, exists := ks.keys[key]; exists {
		return false
	}

	ks.keys[key] = struct{}{}
	ks.bloom.AddString(key)

	if len(ks.keys) > ks.capacity {
		ks.grow()
	}
	return true
}

// Remove removes a key from the set.
func (ks *KeySet) Remove(key string) {
	ks.mutex.Lock()
	defer ks.mutex.Unlock()

	// The bloom filter keeps the bit; the map lookup in Has stays authoritative.
	delete(ks.keys, key)
}

// Load clears the set and loads the provided keys. Empty strings are ignored.
func (ks *KeySet) Load(keys []string) {
	ks.mutex.Lock()
	defer ks.mutex.Unlock()

	ks.clear()

	for _, key := range keys {
		if key != "" {
			ks.keys[key] = struct{}{}
		}
	}
	for len(ks.keys) > ks.capacity {
		ks.capacity *= 2
	}
	ks.rebuild()
}

// Size returns the number of keys currently stored.
func (ks *KeySet) Size() int {
	ks.mutex.RLock()
	defer ks.mutex.RUnlock()
	return len(ks.keys)
}

// Keys returns the stored keys in sorted order.
func (ks *KeySet) Keys() []string {
	ks.mutex.RLock()
	defer ks.mutex.RUnlock()

	out := make([]string, 0, len(ks.keys))
	for key := range ks.keys {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Clear removes all keys from the set.
func (ks *KeySet) Clear() {
	ks.mutex.Lock()
	defer ks.mutex.Unlock()
	ks.clear()
}

func (ks *KeySet) clear() {
	ks.keys = make(map[string]struct{})
	ks.bloom = bloom.NewWithEstimates(uint(ks.capacity), ks.falsePositiveRate)
}

func (ks *KeySet) grow() {
	ks.capacity *= 2
	ks.rebuild()
}

func (ks *KeySet) rebuild() {
	ks.bloom = bloom.NewWithEstimates(uint(ks.capacity), ks.falsePositiveRate)
	for key := range ks.keys {
		ks.bloom.AddString(key)
	}
}
