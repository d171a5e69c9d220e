package alerting

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"

	"metrion-backend/internal/indicator"
)

const SubjectAlertRaised = "indicator.alert.raised"

// NATSSink publishes alerts on the shared NATS connection.
type NATSSink struct {
	Conn *nats.Conn
}

func NewNATSSink(conn *nats.Conn) *NATSSink {
	return &NATSSink{Conn: conn}
}

func (s *NATSSink) RaiseAlert(_ context.Context, alert indicator.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	return s.Conn.Publish(SubjectAlertRaised, data)
}
