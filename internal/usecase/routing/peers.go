package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"switchboard/internal/domain"
)

// CardDiscoverer resolves a peer base URL into a worker descriptor.
type CardDiscoverer interface {
	Discover(ctx context.Context, baseURL string) (domain.WorkerDescriptor, error)
}

// PeerSource supplies additional peer base URLs, resolved afresh on every
// Sync.
type PeerSource interface {
	Peers(ctx context.Context) ([]string, error)
}

// ClientFactory builds the client for a newly discovered worker.
type ClientFactory func(domain.WorkerDescriptor) WorkerClient

// PeerSync registers workers found by fetching peers' agent cards. Workers
// already in the registry are left as they are; a peer that fails is retried
// on the next Sync.
type PeerSync struct {
	dispatcher *Dispatcher
	discoverer CardDiscoverer
	newClient  ClientFactory
	peers      []string
	sources    []PeerSource
	bus        domain.EventBus
	logger     *slog.Logger

	mu sync.Mutex
}

// NewPeerSync creates a PeerSync. bus may be nil.
func NewPeerSync(d *Dispatcher, disc CardDiscoverer, newClient ClientFactory, peers []string, bus domain.EventBus, logger *slog.Logger) *PeerSync {
	if logger == nil {
		logger = discardLogger()
	}
	return &PeerSync{
		dispatcher: d,
		discoverer: disc,
		newClient:  newClient,
		peers:      peers,
		bus:        bus,
		logger:     logger,
	}
}

// AddSource registers src; its peers are queried after the static ones.
func (p *PeerSync) AddSource(src PeerSource) {
	p.mu.Lock()
	p.sources = append(p.sources, src)
	p.mu.Unlock()
}

// resolvePeers returns the static peers followed by every source's peers,
// without duplicates.
func (p *PeerSync) resolvePeers(ctx context.Context) ([]string, []error) {
	seen := make(map[string]bool, len(p.peers))
	var out []string
	add := func(peers []string) {
		for _, peer := range peers {
			if !seen[peer] {
				seen[peer] = true
				out = append(out, peer)
			}
		}
	}
	add(p.peers)

	var errs []error
	for _, src := range p.sources {
		peers, err := src.Peers(ctx)
		if err != nil {
			p.logger.Warn("peer source failed", "error", err)
			errs = append(errs, fmt.Errorf("peer source: %w", err))
		}
		add(peers)
	}
	return out, errs
}

// Sync queries every peer once. It returns the IDs of newly registered
// workers and the joined errors of peers that could not be reached or
// registered. Concurrent calls are serialized.
func (p *PeerSync) Sync(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reg := p.dispatcher.Registry()
	peers, errs := p.resolvePeers(ctx)
	var added []string
	for _, peer := range peers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		desc, err := p.discoverer.Discover(ctx, peer)
		if err != nil {
			p.logger.Warn("peer unreachable", "peer", peer, "error", err)
			p.publish(ctx, domain.EventWorkerUnreachable, domain.WorkerEventPayload{Peer: peer, Error: err.Error()})
			errs = append(errs, fmt.Errorf("peer %s: %w", peer, err))
			continue
		}
		if reg.Has(desc.ID) {
			continue
		}
		if err := reg.Register(desc); err != nil {
			// lost a race with a concurrent registration
			if errors.Is(err, domain.ErrDuplicateWorker) {
				continue
			}
			errs = append(errs, fmt.Errorf("peer %s: %w", peer, err))
			continue
		}
		if err := p.dispatcher.BindClient(desc.ID, p.newClient(desc)); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peer, err))
			continue
		}
		p.logger.Info("worker discovered", "peer", peer, "worker_id", desc.ID, "endpoint", desc.Endpoint)
		p.publish(ctx, domain.EventWorkerDiscovered, domain.WorkerEventPayload{WorkerID: desc.ID, Peer: peer})
		added = append(added, desc.ID)
	}
	return added, errors.Join(errs...)
}

func (p *PeerSync) publish(ctx context.Context, typ domain.EventType, payload domain.WorkerEventPayload) {
	if p.bus == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	p.bus.Publish(ctx, domain.Event{Type: typ, Timestamp: time.Now(), Payload: data})
}
