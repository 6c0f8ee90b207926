package mqtt

import (
	"encoding/json"
	"fmt"
)

// maxPayloadSize caps a single message at 1MB. Sample images are far below it.
const maxPayloadSize = 1 << 20

// Publish sends payload to topic.
//
// Parameters:
//   - topic: destination topic, must not be empty
//   - payload: message body, at most 1MB
//   - qos: 0, 1 or 2
//   - retained: whether the broker keeps the message for late subscribers
//
// Returns ErrNotConnected while the link is down; failures are wrapped in
// ErrPublishFailed.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// PublishEvent mirrors one event document to {prefix}/event/{category}
// with the configured QoS. Events are not retained.
//
// Example:
//
//	err := client.PublishEvent("recognition", ev.Data)
func (c *Client) PublishEvent(category string, data []byte) error {
	if category == "" {
		return ErrInvalidTopic
	}
	return c.Publish(c.topics.Event(category), data, byte(c.cfg.QoS), false)
}

// PublishJSON marshals v and publishes it with the configured QoS.
func (c *Client) PublishJSON(topic string, v any, retained bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, data, byte(c.cfg.QoS), retained)
}
