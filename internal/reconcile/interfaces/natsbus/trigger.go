// Package natsbus starts sync cycles from bus messages.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"alarm-sync/internal/logger"
	"alarm-sync/internal/reconcile/application"
)

// Triggerer starts a background cycle.
type Triggerer interface {
	TriggerCycle(ctx context.Context, trigger string) (string, error)
}

// Request is the optional trigger message body.
type Request struct {
	Reason string `json:"reason,omitempty"`
}

// Reply is sent back when the message carries a reply subject.
type Reply struct {
	BatchID string `json:"batch_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Subscriber turns trigger messages into cycles.
type Subscriber struct {
	engine Triggerer
	ctx    context.Context
	logger *zap.Logger
}

// NewSubscriber constructs a subscriber. ctx bounds the triggered cycles.
func NewSubscriber(ctx context.Context, engine Triggerer, l *zap.Logger) (*Subscriber, error) {
	if engine == nil {
		return nil, errors.New("natsbus: nil engine")
	}
	return &Subscriber{engine: engine, ctx: ctx, logger: logger.OrNop(l)}, nil
}

// Subscribe registers the handler on subject.
func (s *Subscriber) Subscribe(conn *nats.Conn, subject string) (*nats.Subscription, error) {
	if conn == nil {
		return nil, errors.New("natsbus: nil conn")
	}
	return conn.Subscribe(subject, s.Handle)
}

// Handle processes one trigger message.
func (s *Subscriber) Handle(msg *nats.Msg) {
	var req Request
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			s.logger.Warn("ignoring malformed trigger message", zap.String("subject", msg.Subject), zap.Error(err))
			s.reply(msg, Reply{Error: "malformed request"})
			return
		}
	}

	batchID, err := s.engine.TriggerCycle(s.ctx, application.TriggerBus)
	switch {
	case err == nil:
		s.logger.Info("bus triggered sync cycle", zap.String("batch_id", batchID), zap.String("reason", req.Reason))
		s.reply(msg, Reply{BatchID: batchID})
	case errors.Is(err, application.ErrCycleInFlight):
		s.logger.Info("bus trigger ignored, cycle already running")
		s.reply(msg, Reply{Error: err.Error()})
	default:
		s.logger.Warn("bus trigger failed", zap.Error(err))
		s.reply(msg, Reply{Error: err.Error()})
	}
}

func (s *Subscriber) reply(msg *nats.Msg, r Reply) {
	if msg.Reply == "" || msg.Sub == nil {
		return
	}
	data, _ := json.Marshal(r)
	if err := msg.Respond(data); err != nil {
		s.logger.Debug("trigger reply failed", zap.Error(err))
	}
}
