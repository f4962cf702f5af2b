// Package gateway bridges the in-process swarm to the outside world over
// NATS: goal submissions come in, lifecycle events go out. The swarm's own
// bus stays in-process; NATS only carries the external boundary.
package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/evoswarm/evoswarm/internal/config"
	"github.com/evoswarm/evoswarm/internal/swarm"
)

// GoalSubmitter is the slice of the meta agent the gateway needs.
type GoalSubmitter interface {
	SubmitGoal(raw string) (uuid.UUID, error)
}

// goalSubmission is the inbound payload on the goals subject.
type goalSubmission struct {
	GoalText string `json:"goal_text"`
}

// goalAck is the reply sent when the submission carried a reply subject.
type goalAck struct {
	RequestID string `json:"request_id,omitempty"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

// Gateway owns the NATS connection and subscriptions.
type Gateway struct {
	nc     *nats.Conn
	prefix string
	sub    *nats.Subscription
	log    zerolog.Logger
}

// New connects to NATS with infinite reconnects.
func New(cfg config.NATSConfig, log zerolog.Logger) (*Gateway, error) {
	gwLog := log.With().Str("component", "gateway").Logger()

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("evoswarm-gateway"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				gwLog.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			gwLog.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "evoswarm."
	}

	gwLog.Info().Str("url", cfg.URL).Str("prefix", prefix).Msg("gateway connected")
	return &Gateway{nc: nc, prefix: prefix, log: gwLog}, nil
}

// SubscribeGoals starts consuming goal submissions and forwarding them to
// the submitter. Submissions with a reply subject get an ack either way.
func (g *Gateway) SubscribeGoals(submit GoalSubmitter) error {
	subject := g.prefix + "goals.submit"
	sub, err := g.nc.Subscribe(subject, func(msg *nats.Msg) {
		var payload goalSubmission
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			g.log.Warn().Err(err).Msg("dropping malformed goal submission")
			g.reply(msg, goalAck{Accepted: false, Error: "malformed payload"})
			return
		}

		id, err := submit.SubmitGoal(payload.GoalText)
		if err != nil {
			g.log.Debug().Str("goal", payload.GoalText).Err(err).Msg("goal rejected")
			ack := goalAck{Accepted: false, Error: err.Error()}
			if id != uuid.Nil {
				ack.RequestID = id.String()
			}
			g.reply(msg, ack)
			return
		}
		g.reply(msg, goalAck{RequestID: id.String(), Accepted: true})
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	g.sub = sub
	g.log.Info().Str("subject", subject).Msg("goal intake subscribed")
	return nil
}

func (g *Gateway) reply(msg *nats.Msg, ack goalAck) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := msg.Respond(data); err != nil {
		g.log.Debug().Err(err).Msg("goal ack failed")
	}
}

// PublishEvent forwards a meta agent event to the matching NATS subject.
// Delivery is best effort; a down broker never stalls the tick loop.
func (g *Gateway) PublishEvent(evt swarm.Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	subject := g.prefix + "events." + string(evt.Kind)
	if err := g.nc.Publish(subject, data); err != nil {
		g.log.Debug().Str("subject", subject).Err(err).Msg("event publish failed")
	}
}

// Flush waits until the server has processed everything sent so far.
func (g *Gateway) Flush() error {
	return g.nc.Flush()
}

// Close drains the subscription and closes the connection.
func (g *Gateway) Close() {
	if g.sub != nil {
		_ = g.sub.Drain()
	}
	g.nc.Close()
}
