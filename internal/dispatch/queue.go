// Package dispatch delivers post-approval notifications to an outbound
// queue. Delivery is best-effort: the approval has already committed when
// a message is sent.
package dispatch

import (
	"context"
	"encoding/json"
	"log"

	"cseflow/internal/domain"
)

// Message is the payload published when a form reaches approved.
type Message struct {
	Topic    string            `json:"topic"`
	ClientID string            `json:"client_id"`
	Entry    domain.IndexEntry `json:"entry"`
}

// Queue publishes approval messages.
type Queue interface {
	Publish(ctx context.Context, msg Message) error
}

// LogQueue is the local queue emulator: it writes each message to the
// process log instead of a broker.
type LogQueue struct {
	Logger *log.Logger
}

func (q LogQueue) Publish(ctx context.Context, msg Message) error {
	logger := q.Logger
	if logger == nil {
		logger = log.Default()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	logger.Printf("queue publish topic=%s client=%s payload=%s", msg.Topic, msg.ClientID, data)
	return nil
}
