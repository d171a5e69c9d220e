package broadcast

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes progress events to NATS subjects.
type NATSSink struct {
	Conn *nats.Conn
}

func NewNATSSink(url string) (*NATSSink, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &NATSSink{Conn: conn}, nil
}

func (s *NATSSink) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *NATSSink) PublishStarted(_ context.Context, ev StartedEvent) error {
	return s.publish(SubjectExecutionStarted, ev)
}

func (s *NATSSink) PublishCompleted(_ context.Context, ev CompletedEvent) error {
	return s.publish(SubjectExecutionCompleted, ev)
}

func (s *NATSSink) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.Conn.Publish(subject, data)
}
