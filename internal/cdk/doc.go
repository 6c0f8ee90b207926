// Package cdk implements the command vocabulary of the emulated ANPR sensor.
//
// A CDK message is a JSON object with exactly one key, the command name,
// whose value is the payload:
//
//	{"triggerOn": {"@cameraId": "0", "@timeout": "1000"}}
//
// The Dispatcher validates the name, enforces the device lock for
// lock-gated commands, decodes the payload, runs the handler against the
// device components and returns a structured answer:
//
//	{"answer": {"@status": "ok"}}
//	{"answer": {"@status": "failed", "@errorCode": "deviceLocked", "@errorText": "Device is locked"}}
//	{"triggerAnswer": {"@status": "ok", "@triggerId": 3}}
//
// Every dispatched command also publishes an entry on the traces stream.
//
// Transports (HTTP /sync, the /async WebSocket) call HandleMessage with an
// Origin describing the sender; the push channel passes its subscriber so
// setEnableStreams can update that subscriber's flags.
package cdk
