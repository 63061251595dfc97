// Package provider defines the contract every channel manager / OTA adapter
// implements and the registry the worker pool resolves adapters from.
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chansync/internal/models"
)

var ErrUnknownProvider = errors.New("unknown provider type")

// Adapter pushes one date group of records to an external channel.
// Implementations never return errors: every failure is reported through the
// BatchResult so aggregation is the same for all providers.
type Adapter interface {
	Type() string
	SyncBatch(ctx context.Context, date time.Time, records []*models.RateInventoryRecord,
		channel models.ChannelConfig, op models.Operation) models.BatchResult
	TestConnection(ctx context.Context) models.ConnectionResult
}

// Registry maps a channel's provider type to its adapter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its Type(). Registering the same type twice replaces the first one.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Type()] = adapter
}

func (r *Registry) Resolve(providerType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[providerType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerType)
	}
	return adapter, nil
}

// Types returns the registered provider types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
