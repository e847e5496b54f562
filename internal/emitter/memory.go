package emitter

import (
	"context"
	"sync"
)

// PublishedMessage is one captured publish.
type PublishedMessage struct {
	Topic string
	Data  []byte
}

// MemoryPublisher captures publishes in memory for tests and local runs.
type MemoryPublisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	failWith error
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

// FailWith makes subsequent publishes return err; nil restores success.
func (p *MemoryPublisher) FailWith(err error) {
	p.mu.Lock()
	p.failWith = err
	p.mu.Unlock()
}

func (p *MemoryPublisher) Publish(_ context.Context, topic string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWith != nil {
		return p.failWith
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Data: buf})
	return nil
}

// Messages returns captured publishes, optionally filtered by topic.
func (p *MemoryPublisher) Messages(topic string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == "" {
		out := make([]PublishedMessage, len(p.messages))
		copy(out, p.messages)
		return out
	}
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
