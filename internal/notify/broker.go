// Package notify publishes frame-arrival notifications over redis pub/sub
// so transport collaborators (WebSocket/SSE handlers in the dispatcher) can
// wake recipients without polling ListFrames. Delivery is best-effort; the
// frame store remains the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HeartbeatInterval is how often streaming handlers ping idle connections.
const HeartbeatInterval = 30 * time.Second

// Event is one notification on a recipient's channel.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// FrameStored is the payload of a "frame_stored" event.
type FrameStored struct {
	SessionID string `json:"sessionId"`
	SenderID  string `json:"senderId"`
	SenderSeq int64  `json:"senderSeq"`
}

type Client struct {
	RecipientID string
	Events      chan Event
	Done        chan struct{}
}

type Broker struct {
	redis   *RedisClient
	clients map[string]map[*Client]bool // recipientID -> set of clients
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *RedisClient) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe(recipientID string) *Client {
	client := &Client{
		RecipientID: recipientID,
		Events:      make(chan Event, 100),
		Done:        make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[recipientID] == nil {
		b.clients[recipientID] = make(map[*Client]bool)
		// Without redis the broker runs in single-process mode and
		// publishes fan out locally in PublishFrameStored.
		if b.redis != nil {
			go b.subscribeToRedis(recipientID)
		}
	}
	b.clients[recipientID][client] = true
	b.mu.Unlock()

	log.Debug().Str("recipientId", recipientID).Msg("notify client subscribed")
	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.RecipientID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.RecipientID)
		}
	}
}

// PublishFrameStored announces a stored frame to the recipient's channel.
// Called after the storing transaction commits, never inside it.
func (b *Broker) PublishFrameStored(ctx context.Context, recipientID string, stored FrameStored) error {
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	event := Event{Type: "frame_stored", Data: data}

	if b.redis == nil {
		b.broadcast(recipientID, event)
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, FrameChannel(recipientID), payload).Err()
}

func (b *Broker) subscribeToRedis(recipientID string) {
	pubsub := b.redis.Subscribe(b.ctx, FrameChannel(recipientID))
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal notify event")
				continue
			}

			b.broadcast(recipientID, event)
		}
	}
}

func (b *Broker) broadcast(recipientID string, event Event) {
	b.mu.RLock()
	clients := b.clients[recipientID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("recipientId", recipientID).
				Msg("notify client buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
}
