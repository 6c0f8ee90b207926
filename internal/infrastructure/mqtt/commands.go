package mqtt

import "fmt"

// CommandHandler executes one command envelope and returns the encoded answer.
// A nil answer publishes nothing.
type CommandHandler func(payload []byte) []byte

// ServeCommands subscribes to {prefix}/command and publishes every answer
// produced by handler on {prefix}/answer.
func (c *Client) ServeCommands(handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: command handler cannot be nil", ErrSubscribeFailed)
	}
	return c.Subscribe(c.topics.Command(), byte(c.cfg.QoS), c.commandBridge(handler))
}

func (c *Client) commandBridge(handler CommandHandler) MessageHandler {
	return func(_ string, payload []byte) error {
		answer := handler(payload)
		if answer == nil {
			return nil
		}
		return c.Publish(c.topics.Answer(), answer, byte(c.cfg.QoS), false)
	}
}
