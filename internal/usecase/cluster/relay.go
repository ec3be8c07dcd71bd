// Package cluster mirrors dispatch events between switchboard nodes that
// share a Redis instance, so gateway clients, status counters and history on
// every node see dispatches handled anywhere in the cluster.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"switchboard/internal/domain"
)

// DefaultChannel is the pub/sub channel used when Config.Channel is empty.
const DefaultChannel = "switchboard:events"

// RedisClient abstracts the pub/sub operations the relay needs, so a go-redis
// client or a fake can be used interchangeably.
type RedisClient interface {
	// Publish publishes a message to a channel.
	Publish(ctx context.Context, channel string, message string) error
	// Subscribe subscribes to a channel. The returned channel closes when ctx
	// is cancelled or the subscription ends.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
	// Close shuts down the client.
	Close() error
}

// RelayedEvents are the event types mirrored across nodes. Stream chunks stay
// local.
var RelayedEvents = []domain.EventType{
	domain.EventDispatchStarted,
	domain.EventDispatchRouted,
	domain.EventDispatchCompleted,
	domain.EventDispatchFailed,
	domain.EventWorkerDiscovered,
	domain.EventWorkerUnreachable,
}

// Config holds relay settings.
type Config struct {
	NodeID  string
	Channel string
}

// envelope is the wire form of a relayed event.
type envelope struct {
	Node  string       `json:"node"`
	Event domain.Event `json:"event"`
}

// Relay forwards local events to Redis and republishes events from other
// nodes on the local bus with Origin set to the sending node.
type Relay struct {
	nodeID  string
	channel string
	client  RedisClient
	bus     domain.EventBus
	logger  *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	unsubs []func()
	wg     sync.WaitGroup
}

// NewRelay creates a relay for bus. Start must be called to begin relaying.
func NewRelay(client RedisClient, bus domain.EventBus, cfg Config, logger *slog.Logger) *Relay {
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		nodeID:  cfg.NodeID,
		channel: cfg.Channel,
		client:  client,
		bus:     bus,
		logger:  logger,
	}
}

// NodeID returns this node's identifier.
func (r *Relay) NodeID() string { return r.nodeID }

// Start subscribes to the cluster channel and to local events.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return fmt.Errorf("cluster relay already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	msgs, err := r.client.Subscribe(ctx, r.channel)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.ctx, r.cancel = ctx, cancel

	for _, typ := range RelayedEvents {
		r.unsubs = append(r.unsubs, r.bus.Subscribe(typ, r.forward))
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.receive(ctx, msgs)
	}()
	r.logger.Info("cluster relay started", "node_id", r.nodeID, "channel", r.channel)
	return nil
}

// Stop unsubscribes from the bus, ends the Redis subscription and closes the
// client.
func (r *Relay) Stop() error {
	r.mu.Lock()
	cancel := r.cancel
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
	return r.client.Close()
}

// forward publishes a locally produced event to the cluster.
func (r *Relay) forward(_ context.Context, event domain.Event) {
	if event.Origin != "" {
		return
	}
	data, err := json.Marshal(envelope{Node: r.nodeID, Event: event})
	if err != nil {
		r.logger.Warn("cluster relay: marshal event", "type", event.Type, "error", err)
		return
	}

	r.mu.Lock()
	ctx := r.ctx
	r.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if err := r.client.Publish(ctx, r.channel, string(data)); err != nil {
		r.logger.Warn("cluster relay: publish", "type", event.Type, "error", err)
	}
}

func (r *Relay) receive(ctx context.Context, msgs <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg), &env); err != nil {
				r.logger.Warn("cluster relay: unmarshal event", "error", err)
				continue
			}
			if env.Node == r.nodeID || env.Node == "" {
				continue
			}
			env.Event.Origin = env.Node
			r.bus.Publish(ctx, env.Event)
		}
	}
}
