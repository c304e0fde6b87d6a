package cloudproviders

import (
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]CloudProvider)
)

// Register registers a cloud billing adapter. It is called from an init()
// function in each adapter package.
func Register(p CloudProvider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if p == nil {
		panic("cloudproviders: Register provider is nil")
	}
	if _, dup := registry[p.Key()]; dup {
		panic("cloudproviders: Register called twice for provider " + p.Key())
	}
	registry[p.Key()] = p
}

// Get returns a cloud provider by key.
func Get(key string) (CloudProvider, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	p, ok := registry[key]
	return p, ok
}

// List returns a sorted list of registered provider keys.
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var keys []string
	for k := range registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
