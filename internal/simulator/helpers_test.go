package simulator

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/harbourdeck/callpoint-core/internal/infrastructure/mqtt"
)

// fakeTransport records publishes and routes them to subscribed
// handlers, standing in for a broker.
type fakeTransport struct {
	mu        sync.Mutex
	published []publishedMessage
	handlers  map[string]mqtt.MessageHandler
}

type publishedMessage struct {
	topic   string
	payload []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeTransport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	f.mu.Lock()
	f.published = append(f.published, publishedMessage{topic: topic, payload: payload})
	handler := f.handlers[topic]
	f.mu.Unlock()

	// Loop the message back like a broker would.
	if handler != nil {
		go handler(topic, payload) //nolint:errcheck // test loopback
	}
	return nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeTransport) DefaultQoS() byte { return 1 }

func (f *fakeTransport) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

func (f *fakeTransport) messagesOn(t *testing.T, topic string) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, m := range f.published {
		if m.topic != topic {
			continue
		}
		var decoded map[string]any
		if err := json.Unmarshal(m.payload, &decoded); err != nil {
			t.Fatalf("malformed payload on %s: %v", topic, err)
		}
		out = append(out, decoded)
	}
	return out
}

func (f *fakeTransport) countOn(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.published {
		if m.topic == topic {
			n++
		}
	}
	return n
}
