package mqtt

import "strings"

// DefaultTopicPrefix is used when the configuration leaves topic_prefix empty.
const DefaultTopicPrefix = "anprsim"

// Topics builds the simulator's MQTT topic names under a configurable prefix.
//
// Layout:
//
//	{prefix}/system/status      retained online/offline status (LWT)
//	{prefix}/event/{category}   mirrored device events
//	{prefix}/command            inbound CDK command envelopes
//	{prefix}/answer             answers to inbound commands
type Topics struct {
	Prefix string
}

// NewTopics returns a Topics with the prefix trimmed of surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// Status returns the retained status topic.
func (t Topics) Status() string {
	return t.root() + "/system/status"
}

// Event returns the topic an event category is mirrored to.
//
// Example: anprsim/event/recognition
func (t Topics) Event(category string) string {
	return t.root() + "/event/" + category
}

// AllEvents returns a wildcard matching every mirrored event.
func (t Topics) AllEvents() string {
	return t.root() + "/event/+"
}

// Command returns the topic inbound commands are read from.
func (t Topics) Command() string {
	return t.root() + "/command"
}

// Answer returns the topic command answers are written to.
func (t Topics) Answer() string {
	return t.root() + "/answer"
}

// All returns a wildcard matching everything under the prefix.
func (t Topics) All() string {
	return t.root() + "/#"
}
