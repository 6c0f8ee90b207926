// Package events fans device events out to push-channel subscribers.
//
// Every connected /async client is a Subscriber with its own bounded queue
// and three stream flags (configChanges, infoChanges, traces) set through
// setEnableStreams. Recognition and trigger-result events ignore the flags
// and reach everyone.
//
// Publish marshals the payload once, then performs a non-blocking enqueue
// per subscriber. A full queue never stalls the publisher or other
// subscribers: depending on the configured OverflowPolicy the event is
// dropped for that subscriber or the subscriber is disconnected.
//
// payload.go holds the wire shapes of the events (anpr, configChanges,
// infoChanges, traces) so the dispatcher, trigger manager and generator
// render them identically.
package events
