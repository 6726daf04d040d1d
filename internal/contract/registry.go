// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugMesh Contributors

package contract

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
)

// Topics on which registry changes are announced when an announcer is
// configured.
const (
	TopicRegistered = "contracts.registered"
	TopicWithdrawn  = "contracts.withdrawn"
)

// Announcer publishes an availability record for a registry change.
// Announcement failures are logged, never propagated: discovery is
// best-effort advertising on top of an authoritative local catalog.
type Announcer func(topic string, contract ServiceContract)

// Registry is the catalog of registered service contracts. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string][]*ServiceContract
	announce Announcer
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithAnnouncer announces registrations and withdrawals through fn,
// typically wired to the bus by the composition root.
func WithAnnouncer(fn Announcer) RegistryOption {
	return func(r *Registry) {
		r.announce = fn
	}
}

// NewRegistry creates an empty contract registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName: make(map[string][]*ServiceContract),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a contract to the catalog. The same (name, version) pair
// from a different provider is rejected; re-registration by the same
// provider refreshes the contract and its recency.
func (r *Registry) Register(c ServiceContract) error {
	if err := c.Validate(); err != nil {
		return err
	}
	c.RegisteredAt = time.Now()

	r.mu.Lock()
	entries := r.byName[c.Name]
	for i, existing := range entries {
		if !existing.Version.Equal(c.Version) {
			continue
		}
		if existing.ProviderID != c.ProviderID {
			r.mu.Unlock()
			return ErrDuplicateVersion(c.Name, c.Version.String(), existing.ProviderID)
		}
		// Same provider re-registering: refresh in place, move to newest.
		entries = append(entries[:i], entries[i+1:]...)
		break
	}
	r.byName[c.Name] = append(entries, &c)
	r.mu.Unlock()

	slog.Info("service contract registered",
		"name", c.Name,
		"version", c.Version.String(),
		"provider", c.ProviderID)

	if r.announce != nil {
		r.announce(TopicRegistered, c)
	}
	return nil
}

// Find returns all contracts for name whose version satisfies rangeExpr,
// ordered by registration recency descending. An empty range matches any
// version. A name with no matches returns an empty slice, not an error;
// only a malformed range fails.
func (r *Registry) Find(name, rangeExpr string) ([]ServiceContract, error) {
	var constraint *semver.Constraints
	if rangeExpr != "" {
		var err error
		constraint, err = semver.NewConstraint(rangeExpr)
		if err != nil {
			return nil, ErrInvalidRange(rangeExpr, err)
		}
	}

	r.mu.RLock()
	entries := r.byName[name]
	matches := make([]ServiceContract, 0, len(entries))
	for _, c := range entries {
		if constraint != nil && !constraint.Check(c.Version) {
			continue
		}
		matches = append(matches, *c)
	}
	r.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].RegisteredAt.After(matches[j].RegisteredAt)
	})
	return matches, nil
}

// Withdraw removes every version of name registered by providerID,
// leaving other providers' contracts untouched.
func (r *Registry) Withdraw(providerID, name string) error {
	r.mu.Lock()
	entries := r.byName[name]
	kept := entries[:0]
	var withdrawn []ServiceContract
	for _, c := range entries {
		if c.ProviderID == providerID {
			withdrawn = append(withdrawn, *c)
			continue
		}
		kept = append(kept, c)
	}
	if len(kept) == 0 {
		delete(r.byName, name)
	} else {
		r.byName[name] = kept
	}
	r.mu.Unlock()

	if len(withdrawn) == 0 {
		return ErrNotFound(name)
	}

	slog.Info("service contract withdrawn",
		"name", name,
		"provider", providerID,
		"versions", len(withdrawn))

	if r.announce != nil {
		for _, c := range withdrawn {
			r.announce(TopicWithdrawn, c)
		}
	}
	return nil
}

// Names returns all registered contract names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
