// Package mqtt mirrors simulator events to an MQTT broker.
//
// When enabled, every event the device emits (recognitions, trigger
// results, change notifications, traces) is republished on
// {prefix}/event/{category}. Integrators can also send CDK command
// envelopes to {prefix}/command and read the answers from {prefix}/answer,
// which is handy for exercising the device without HTTP.
//
// The broker is optional. A failed initial connect is reported once by
// Connect; drops afterwards are retried with paho's backoff between the
// configured initial and maximum delays, and subscriptions are restored.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishEvent("recognition", data)
//	client.ServeCommands(func(payload []byte) []byte { ... })
package mqtt
