// Package jobs contains the job-processing layer: the type-to-processor
// registry, the notification processors for each event kind, and the shared
// retry/backoff policy helpers.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"milestone/internal/types"
)

// Processor handles one job type. Process never returns an error and never
// panics across the boundary; every outcome is a ProcessorResult so the
// worker can decide between acknowledge and redelivery uniformly.
type Processor interface {
	Type() types.JobType
	Process(ctx context.Context, envelope types.JobEnvelope) types.ProcessorResult
}

// Registry maps job types to processors. It is populated during process
// startup and frozen before any worker starts polling; after Freeze the
// routing topology is immutable for the life of the process. Duplicate
// registration is a configuration error the caller treats as fatal, which
// prevents silent handler shadowing.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	handlers map[types.JobType]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.JobType]Processor)}
}

// Register binds a processor to its job type. Registering a type twice or
// registering after Freeze returns a configuration AppError; callers exit
// on it at startup.
func (r *Registry) Register(p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return types.NewAppError(types.ErrCodeConfigRegistryFrozen,
			fmt.Sprintf("cannot register %s after registry freeze", p.Type()), nil)
	}
	if _, exists := r.handlers[p.Type()]; exists {
		return types.NewAppError(types.ErrCodeConfigDuplicateHandler,
			fmt.Sprintf("handler for %s already registered", p.Type()), nil)
	}
	r.handlers[p.Type()] = p
	return nil
}

// Freeze marks the end of the initialization phase. Lookups after Freeze
// are lock-free reads in practice; no handler may be added or removed.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Handler returns the processor for the given type, if one is registered.
func (r *Registry) Handler(t types.JobType) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.handlers[t]
	return p, ok
}

// IsRegistered reports whether a processor exists for the type.
func (r *Registry) IsRegistered(t types.JobType) bool {
	_, ok := r.Handler(t)
	return ok
}

// Types returns the registered job types, for startup logging.
func (r *Registry) Types() []types.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
