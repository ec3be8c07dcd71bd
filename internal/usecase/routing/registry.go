package routing

import (
	"iter"
	"log/slog"
	"sync"

	"switchboard/internal/domain"
)

// Registry holds worker descriptors keyed by ID and remembers registration
// order, which classifiers use as their tie-break.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]domain.WorkerDescriptor
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = discardLogger()
	}
	return &Registry{
		workers: make(map[string]domain.WorkerDescriptor),
		logger:  logger,
	}
}

// Register adds a descriptor. Returns ErrDuplicateWorker if the ID is taken;
// the registry is left unchanged in that case.
func (r *Registry) Register(d domain.WorkerDescriptor) error {
	if d.ID == "" {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, "empty worker id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[d.ID]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateWorker, d.ID)
	}
	stored := d.Clone()
	stored.AcceptedIntents = domain.NormalizeIntents(stored.AcceptedIntents)
	r.workers[d.ID] = stored
	r.order = append(r.order, d.ID)
	r.logger.Info("worker registered", "worker_id", d.ID, "name", d.Name(), "intents", stored.AcceptedIntents)
	return nil
}

// Lookup returns the descriptor for id, or ErrUnknownWorker.
func (r *Registry) Lookup(id string) (domain.WorkerDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.workers[id]
	if !ok {
		return domain.WorkerDescriptor{}, domain.NewDomainError("Registry.Lookup", domain.ErrUnknownWorker, id)
	}
	return d.Clone(), nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[id]
	return ok
}

// All returns a lazy sequence over every descriptor in registration order.
// Each range over the sequence starts again from the first worker and sees
// the registry as of that moment.
func (r *Registry) All() iter.Seq[domain.WorkerDescriptor] {
	return func(yield func(domain.WorkerDescriptor) bool) {
		for _, d := range r.snapshot() {
			if !yield(d) {
				return
			}
		}
	}
}

// List returns every descriptor in registration order.
func (r *Registry) List() []domain.WorkerDescriptor {
	return r.snapshot()
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) snapshot() []domain.WorkerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.WorkerDescriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workers[id].Clone())
	}
	return out
}
