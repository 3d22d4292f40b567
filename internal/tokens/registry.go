package tokens

import (
	"sort"
	"strings"
	"sync"

	"dicomweb-oauth-proxy/internal/common/errors"
)

// Registry maps configured server names to their Managers and routes outbound
// request URLs to the right one. It is the process-wide context object the
// proxy and monitoring layers share; owning it explicitly keeps teardown and
// test isolation clean.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
}

type registryEntry struct {
	baseURL string
	manager *Manager
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*registryEntry)}
}

// Register adds a server's manager under its name. baseURL is the DICOMweb
// endpoint prefix used for URL routing.
func (r *Registry) Register(name, baseURL string, manager *Manager) {
	r.mu.Lock()
	r.entries[name] = &registryEntry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		manager: manager,
	}
	r.mu.Unlock()
}

// Lookup returns the manager for a server name.
func (r *Registry) Lookup(name string) (*Manager, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NotFoundError("server " + name)
	}
	return entry.manager, nil
}

// Match finds the server whose base URL is the longest prefix of url.
func (r *Registry) Match(url string) (string, *Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		bestName string
		bestLen  = -1
	)
	for name, entry := range r.entries {
		if strings.HasPrefix(url, entry.baseURL) && len(entry.baseURL) > bestLen {
			bestName = name
			bestLen = len(entry.baseURL)
		}
	}
	if bestLen < 0 {
		return "", nil, false
	}
	return bestName, r.entries[bestName].manager, true
}

// BaseURL returns the configured endpoint prefix for a server.
func (r *Registry) BaseURL(name string) (string, error) {
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return "", errors.NotFoundError("server " + name)
	}
	return entry.baseURL, nil
}

// Names returns the registered server names, sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StatusAll collects every manager's status, sorted by server name.
func (r *Registry) StatusAll() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.entries))
	for _, entry := range r.entries {
		statuses = append(statuses, entry.manager.Status())
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ServerName < statuses[j].ServerName
	})
	return statuses
}
