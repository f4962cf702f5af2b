package swarm

import (
	"github.com/google/uuid"
)

// MessageKind represents the type of message
type MessageKind string

const (
	MessageKindRequest   MessageKind = "request"   // Capability invocation expecting a response
	MessageKindResponse  MessageKind = "response"  // Response to a request, carries the request's correlation id
	MessageKindBroadcast MessageKind = "broadcast" // Topic fan-out, fire-and-forget
)

// Message is the envelope carried by the communication bus. Payload stays
// typed in-process; the bus never inspects it.
type Message struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	Sender        string
	Recipient     string // empty for broadcasts
	Topic         string // set for broadcasts
	Kind          MessageKind
	Payload       any
	IssuedTick    uint64 // tick the sender created the message
	DeliveredTick uint64 // tick the bus moved it into the inbox, zero until then
}

// CapabilityRequest is the payload of a capability invocation sent to a
// skill agent.
type CapabilityRequest struct {
	Capability string
	Command    string
	Args       []string
}

// CapabilityResponse is the payload of a skill agent's reply.
type CapabilityResponse struct {
	Result CapabilityResult
}

// NewRequest creates a request message with a fresh id and correlation id.
func NewRequest(sender, recipient string, req CapabilityRequest, tick uint64) *Message {
	return &Message{
		ID:            uuid.New(),
		CorrelationID: uuid.New(),
		Sender:        sender,
		Recipient:     recipient,
		Kind:          MessageKindRequest,
		Payload:       req,
		IssuedTick:    tick,
	}
}

// NewResponse creates a response to a request, carrying its correlation id.
func NewResponse(req *Message, result CapabilityResult, tick uint64) *Message {
	return &Message{
		ID:            uuid.New(),
		CorrelationID: req.CorrelationID,
		Sender:        req.Recipient,
		Recipient:     req.Sender,
		Kind:          MessageKindResponse,
		Payload:       CapabilityResponse{Result: result},
		IssuedTick:    tick,
	}
}
