// Package memory keeps published record notifications in process, encoded
// the same way the Pub/Sub publisher encodes them.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Message is one stored publish.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the JSON body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher implements harvest.Publisher without a broker.
type Publisher struct {
	defaultTopic string

	mu       sync.Mutex
	messages []Message
	err      error
}

// New returns a Publisher. defaultTopic is used when Publish receives an
// empty topic.
func New(defaultTopic string) *Publisher {
	return &Publisher{defaultTopic: defaultTopic}
}

// FailWith makes subsequent publishes return err.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish encodes payload as JSON and stores it under topic.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		topic = p.defaultTopic
	}
	if topic == "" {
		return "", fmt.Errorf("memory publisher: topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	id := strconv.Itoa(len(p.messages) + 1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns the publishes to topic, oldest first. An empty topic
// returns every message.
func (p *Publisher) Messages(topic string) []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Message
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
