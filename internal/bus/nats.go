// Package bus carries control events between the management API and the
// engine: indicator lifecycle changes, connection changes, and manual run
// requests.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectIndicatorCreated  = "indicator.created"
	SubjectIndicatorUpdated  = "indicator.updated"
	SubjectIndicatorDeleted  = "indicator.deleted"
	SubjectIndicatorRun      = "indicator.run"
	SubjectConnectionUpdated = "connection.updated"
)

// Event is the payload for every control subject; unused fields stay empty.
type Event struct {
	IndicatorID  string `json:"indicator_id,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`
}

type Publisher struct {
	Conn *nats.Conn
}

func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{Conn: conn}, nil
}

func (p *Publisher) Close() {
	if p == nil || p.Conn == nil {
		return
	}
	p.Conn.Drain()
	p.Conn.Close()
}

// Publish is a no-op on a nil publisher so the API can run without NATS.
func (p *Publisher) Publish(subject string, payload any) error {
	if p == nil || p.Conn == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.Conn.Publish(subject, data)
}

type Subscriber struct {
	Conn *nats.Conn
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		_ = json.Unmarshal(msg.Data, &evt)
		handler(evt)
	})
}
