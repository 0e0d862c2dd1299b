package ws

import (
	"context"
	"log/slog"

	"github.com/JenilSavalia/vercel-octo-sniffle/internal/queue"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans build log lines out to streaming clients, keyed by deployment id.
// The first subscriber for a deployment opens the broker subscription for its
// log channel; the last one to leave closes it.
type Hub struct {
	broker    queue.LogBroker
	log       *slog.Logger
	clients   map[string]map[Subscriber]struct{}
	streams   map[string]func()
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
}

// message couples a log payload with its deployment id.
type message struct {
	deploymentID string
	payload      []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	deploymentID string
	client       Subscriber
}

// NewHub creates a running Hub bridging broker log channels to clients. The
// context bounds the broker subscriptions; cancelling it stops new streams.
func NewHub(ctx context.Context, broker queue.LogBroker, logger *slog.Logger) *Hub {
	h := &Hub{
		broker:    broker,
		log:       logger,
		clients:   make(map[string]map[Subscriber]struct{}),
		streams:   make(map[string]func()),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
	}
	go h.run(ctx)
	return h
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case sub := <-h.register:
			if _, ok := h.clients[sub.deploymentID]; !ok {
				if err := h.openStream(ctx, sub.deploymentID); err != nil {
					// No stream means the client would hang silently;
					// drop it so it reconnects instead.
					h.log.Error("log subscription failed", "deployment_id", sub.deploymentID, "error", err)
					sub.client.Close()
					continue
				}
				h.clients[sub.deploymentID] = make(map[Subscriber]struct{})
			}
			h.clients[sub.deploymentID][sub.client] = struct{}{}
		case sub := <-h.unreg:
			if clients, ok := h.clients[sub.deploymentID]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					h.dropStream(sub.deploymentID)
				}
			}
		case msg := <-h.broadcast:
			clients, ok := h.clients[msg.deploymentID]
			if !ok {
				continue
			}
			for c := range clients {
				if err := c.Send(msg.payload); err != nil {
					c.Close()
					delete(clients, c)
				}
			}
			if len(clients) == 0 {
				h.dropStream(msg.deploymentID)
			}
		case <-ctx.Done():
			for id := range h.clients {
				for c := range h.clients[id] {
					c.Close()
				}
				h.dropStream(id)
			}
			return
		}
	}
}

// openStream subscribes to the deployment's broker channel and pumps lines
// into the broadcast loop until the subscription closes.
func (h *Hub) openStream(ctx context.Context, deploymentID string) error {
	lines, cancel, err := h.broker.Subscribe(ctx, deploymentID)
	if err != nil {
		return err
	}
	h.streams[deploymentID] = cancel
	go func() {
		for line := range lines {
			select {
			case h.broadcast <- message{deploymentID: deploymentID, payload: []byte(line)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (h *Hub) dropStream(deploymentID string) {
	delete(h.clients, deploymentID)
	if cancel, ok := h.streams[deploymentID]; ok {
		cancel()
		delete(h.streams, deploymentID)
	}
}

// Register adds a client to a deployment's log stream.
func (h *Hub) Register(deploymentID string, client Subscriber) {
	h.register <- subscription{deploymentID: deploymentID, client: client}
}

// Unregister removes a client.
func (h *Hub) Unregister(deploymentID string, client Subscriber) {
	h.unreg <- subscription{deploymentID: deploymentID, client: client}
}

// Broadcast delivers payload to every client watching the deployment. Lines
// arriving from the broker take the same path.
func (h *Hub) Broadcast(deploymentID string, payload []byte) {
	h.broadcast <- message{deploymentID: deploymentID, payload: payload}
}
