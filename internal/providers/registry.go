package providers

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a provider from an API key and optional model override.
type Factory func(apiKey, model string) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register installs a provider factory under a name. Concrete adapters
// register themselves at init time; the core never links against
// provider HTTP clients directly.
func Register(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New builds a registered provider by name.
func New(name, apiKey, model string) (Provider, error) {
	factoriesMu.RLock()
	f, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered (available: %v)", name, Registered())
	}
	return f(apiKey, model)
}

// Registered lists the registered provider names, sorted.
func Registered() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
