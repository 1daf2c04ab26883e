package mqttlink

import (
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-instruments/internal/infrastructure/mqtt"
)

// memNet is an in-memory broker with exact topic matching, retained
// messages and wills. Each client receives messages in order on its own
// goroutine, as paho does with OrderMatters set.
type memNet struct {
	mu       sync.Mutex
	prefix   string
	retained map[string][]byte
	clients  map[string]*memClient
}

func newMemNet(t *testing.T) *memNet {
	t.Helper()
	return &memNet{
		prefix:   "test",
		retained: make(map[string][]byte),
		clients:  make(map[string]*memClient),
	}
}

type memClient struct {
	net     *memNet
	id      string
	will    string
	subs    map[string]mqtt.MessageHandler
	inbox   chan func()
	done    chan struct{}
	stopped bool
}

// client connects id. will, when set, is the status topic the client
// announces itself on.
func (n *memNet) client(t *testing.T, id, will string) *memClient {
	t.Helper()

	c := &memClient{
		net:   n,
		id:    id,
		will:  will,
		subs:  make(map[string]mqtt.MessageHandler),
		inbox: make(chan func(), 1024),
		done:  make(chan struct{}),
	}
	go func() {
		for {
			select {
			case fn := <-c.inbox:
				fn()
			case <-c.done:
				return
			}
		}
	}()

	n.mu.Lock()
	n.clients[id] = c
	n.mu.Unlock()

	if will != "" {
		_ = c.Publish(will, mqtt.StatusPayload(mqtt.StatusOnline, id, ""), 1, true)
	}
	t.Cleanup(func() { c.drop("") })
	return c
}

// drop disconnects the client. A non-empty reason publishes its will.
func (c *memClient) drop(reason string) {
	n := c.net
	n.mu.Lock()
	if c.stopped {
		n.mu.Unlock()
		return
	}
	c.stopped = true
	delete(n.clients, c.id)
	n.mu.Unlock()
	close(c.done)

	if reason != "" && c.will != "" {
		n.publish(c.will, mqtt.StatusPayload(mqtt.StatusOffline, c.id, reason), true)
	}
}

func (n *memNet) publish(topic string, payload []byte, retained bool) {
	n.mu.Lock()
	if retained {
		n.retained[topic] = payload
	}
	var targets []*memClient
	var handlers []mqtt.MessageHandler
	for _, c := range n.clients {
		if h, ok := c.subs[topic]; ok {
			targets = append(targets, c)
			handlers = append(handlers, h)
		}
	}
	n.mu.Unlock()

	for i, c := range targets {
		h := handlers[i]
		c.inbox <- func() { _ = h(topic, payload) }
	}
}

func (c *memClient) ClientID() string    { return c.id }
func (c *memClient) Topics() mqtt.Topics { return mqtt.NewTopics(c.net.prefix) }
func (c *memClient) QoS() byte           { return 1 }

func (c *memClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	c.net.mu.Lock()
	stopped := c.stopped
	c.net.mu.Unlock()
	if stopped {
		return mqtt.ErrNotConnected
	}
	c.net.publish(topic, payload, retained)
	return nil
}

func (c *memClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	n := c.net
	n.mu.Lock()
	if c.stopped {
		n.mu.Unlock()
		return mqtt.ErrNotConnected
	}
	c.subs[topic] = handler
	payload, ok := n.retained[topic]
	n.mu.Unlock()

	if ok {
		c.inbox <- func() { _ = handler(topic, payload) }
	}
	return nil
}

func (c *memClient) Unsubscribe(topic string) error {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	delete(c.subs, topic)
	return nil
}

func (c *memClient) hasSub(topic string) bool {
	c.net.mu.Lock()
	defer c.net.mu.Unlock()
	_, ok := c.subs[topic]
	return ok
}
