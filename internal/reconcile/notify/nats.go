package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"

	"alarm-sync/internal/reconcile/application"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// BusPublisher publishes every cycle result as JSON.
type BusPublisher struct {
	conn    Conn
	subject string
}

// NewBusPublisher constructs a publisher on subject.
func NewBusPublisher(conn Conn, subject string) (*BusPublisher, error) {
	if conn == nil {
		return nil, errors.New("bus publisher: nil conn")
	}
	if subject == "" {
		return nil, errors.New("bus publisher: empty subject")
	}
	return &BusPublisher{conn: conn, subject: subject}, nil
}

// Notify publishes res.
func (p *BusPublisher) Notify(_ context.Context, res application.CycleResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject, data)
}

// Connect dials the bus with reconnects enabled.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
	)
}

// Close drains and closes conn.
func Close(conn *nats.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Drain()
	conn.Close()
}
