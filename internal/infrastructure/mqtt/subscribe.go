package mqtt

import (
	"fmt"
)

// Subscribe registers handler for topic, which may contain the + and #
// wildcards. For example:
//
//	client.Subscribe(client.Topics().DelegateStatus("gpib0"), client.QoS(), onStatus)
//
// Handlers run on the client's delivery goroutine in arrival order, so a
// handler that blocks stalls every other subscription. A handler panic is
// recovered and logged.
//
// The subscription is remembered and restored after a reconnect. A failed
// subscribe is forgotten again.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.forget(topic)
		return err
	}
	return nil
}

// Unsubscribe stops delivery for a topic previously passed to Subscribe.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.forget(topic)
	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of remembered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether topic, compared literally, is subscribed.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subscriptions[topic]
	return ok
}
