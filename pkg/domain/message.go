package domain

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Message is the envelope delivered to command states through a bus.
type Message struct {
	ID        string            `json:"id" mapstructure:"id"`
	Topic     string            `json:"topic" mapstructure:"topic"`
	Payload   any               `json:"payload,omitempty" mapstructure:"payload"`
	Headers   map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Timestamp time.Time         `json:"timestamp" mapstructure:"timestamp"`
}

// Decode copies the payload into out (a pointer), converting generic maps
// produced by JSON transports into typed structs.
func (m Message) Decode(out any) error {
	if err := mapstructure.Decode(m.Payload, out); err != nil {
		return fmt.Errorf("failed to decode payload of message %s: %w", m.ID, err)
	}
	return nil
}
