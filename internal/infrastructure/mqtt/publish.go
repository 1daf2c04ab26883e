package mqtt

import (
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// maxPayloadSize caps a single message. Delegate frames and readings are
// far smaller; anything bigger is a bug.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic and waits for the broker to acknowledge it
// (QoS 1 and 2) or for the write to complete (QoS 0).
//
// Delegate requests and responses are never retained. Status topics and
// instrument readings are.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.client.Publish(topic, qos, retained, payload), ErrPublishFailed)
}

// PublishString publishes a string payload.
func (c *Client) PublishString(topic, payload string, qos byte, retained bool) error {
	return c.Publish(topic, []byte(payload), qos, retained)
}

func checkTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// await waits for token, wrapping a timeout or broker error in sentinel.
func await(token pahomqtt.Token, sentinel error) error {
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}
