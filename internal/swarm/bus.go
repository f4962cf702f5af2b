package swarm

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Bus provides agent-to-agent communication: topic-based publish/subscribe
// plus direct addressed delivery. Delivery is tick-buffered: messages
// enqueued during tick T become visible to recipients when Deliver is called
// at the start of tick T+1. FIFO order is preserved per sender-recipient
// pair; no ordering is guaranteed across senders.
type Bus struct {
	mu      sync.Mutex
	log     zerolog.Logger
	inboxes map[string][]*Message            // visible messages per agent
	staged  []*Message                       // enqueued this tick, delivered at the next boundary
	subs    map[string]map[string]struct{}   // topic -> subscriber set
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		log:     log.With().Str("component", "bus").Logger(),
		inboxes: make(map[string][]*Message),
		subs:    make(map[string]map[string]struct{}),
	}
}

// Register creates an inbox for an agent. Registration is what makes an
// agent addressable; Send to an unregistered id fails.
func (b *Bus) Register(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.inboxes[agentID]; !ok {
		b.inboxes[agentID] = nil
		b.log.Debug().Str("agent", agentID).Msg("Registered agent inbox")
	}
}

// Unregister removes an agent's inbox and all its topic subscriptions.
// Staged messages addressed to it are dropped at the next Deliver.
func (b *Bus) Unregister(agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inboxes, agentID)
	for _, set := range b.subs {
		delete(set, agentID)
	}
	b.log.Debug().Str("agent", agentID).Msg("Unregistered agent")
}

// Send enqueues a direct message for exactly one recipient. The message is
// staged until the next tick boundary. Fails with ErrUnknownRecipient when
// the recipient is not registered.
func (b *Bus) Send(msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.inboxes[msg.Recipient]; !ok {
		b.log.Warn().
			Str("sender", msg.Sender).
			Str("recipient", msg.Recipient).
			Msg("Send to unknown recipient")
		return ErrUnknownRecipient
	}

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	b.staged = append(b.staged, msg)

	b.log.Debug().
		Str("message_id", msg.ID.String()).
		Str("sender", msg.Sender).
		Str("recipient", msg.Recipient).
		Str("kind", string(msg.Kind)).
		Msg("Staged message")

	return nil
}

// Publish fans a broadcast out to all current subscribers of the topic.
// The subscriber set is captured at publish time; delivery still waits for
// the tick boundary. Broadcasts never fail.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	msg.Kind = MessageKindBroadcast

	for agentID := range b.subs[msg.Topic] {
		if agentID == msg.Sender {
			continue
		}
		copied := *msg
		copied.Recipient = agentID
		b.staged = append(b.staged, &copied)
	}

	b.log.Debug().
		Str("message_id", msg.ID.String()).
		Str("sender", msg.Sender).
		Str("topic", msg.Topic).
		Int("subscribers", len(b.subs[msg.Topic])).
		Msg("Staged broadcast")
}

// Subscribe adds an agent to a topic.
func (b *Bus) Subscribe(topic, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[string]struct{})
	}
	b.subs[topic][agentID] = struct{}{}
}

// Unsubscribe removes an agent from a topic.
func (b *Bus) Unsubscribe(topic, agentID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[topic]; ok {
		delete(set, agentID)
	}
}

// Deliver moves every staged message into its recipient's inbox, stamping
// DeliveredTick. Called exactly once per tick by the meta agent,
// before any agent steps. Returns the number of messages delivered; staged
// messages whose recipient has since unregistered are dropped.
func (b *Bus) Deliver(tick uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, msg := range b.staged {
		inbox, ok := b.inboxes[msg.Recipient]
		if !ok {
			continue
		}
		msg.DeliveredTick = tick
		b.inboxes[msg.Recipient] = append(inbox, msg)
		delivered++
	}
	b.staged = b.staged[:0]

	if delivered > 0 {
		b.log.Debug().Uint64("tick", tick).Int("delivered", delivered).Msg("Delivered staged messages")
	}
	return delivered
}

// Drain returns and clears an agent's inbox, preserving delivery order.
func (b *Bus) Drain(agentID string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.inboxes[agentID]
	b.inboxes[agentID] = nil
	return msgs
}

// StagedCount reports messages waiting for the next tick boundary.
func (b *Bus) StagedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}
