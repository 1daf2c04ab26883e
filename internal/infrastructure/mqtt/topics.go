package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "instruments"

// Topics builds the topic hierarchy under a prefix.
//
//	<prefix>/system/status
//	<prefix>/delegate/<name>/request
//	<prefix>/delegate/<name>/response/<client-id>
//	<prefix>/delegate/<name>/status
//	<prefix>/instrument/<name>/reading/<parameter>
//
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct {
	prefix string
}

// NewTopics returns builders under prefix, or DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the topic prefix.
func (t Topics) Prefix() string {
	if t.prefix == "" {
		return DefaultTopicPrefix
	}
	return t.prefix
}

// SystemStatus returns the hub's retained status topic.
//
// Example: instruments/system/status
func (t Topics) SystemStatus() string {
	return fmt.Sprintf("%s/system/status", t.Prefix())
}

// DelegateRequest returns the topic a delegate worker receives requests on.
//
// Example: instruments/delegate/gpib0/request
func (t Topics) DelegateRequest(delegate string) string {
	return fmt.Sprintf("%s/delegate/%s/request", t.Prefix(), delegate)
}

// DelegateResponse returns the topic on which the client clientID receives
// responses from delegate.
//
// Example: instruments/delegate/gpib0/response/instrumentd-7f3a
func (t Topics) DelegateResponse(delegate, clientID string) string {
	return fmt.Sprintf("%s/delegate/%s/response/%s", t.Prefix(), delegate, clientID)
}

// DelegateStatus returns the retained status topic of a delegate worker.
//
// Example: instruments/delegate/gpib0/status
func (t Topics) DelegateStatus(delegate string) string {
	return fmt.Sprintf("%s/delegate/%s/status", t.Prefix(), delegate)
}

// AllDelegateStatus returns a wildcard matching every delegate status topic.
//
// Example: instruments/delegate/+/status
func (t Topics) AllDelegateStatus() string {
	return fmt.Sprintf("%s/delegate/+/status", t.Prefix())
}

// InstrumentReading returns the topic a parameter reading is mirrored to.
//
// Example: instruments/instrument/dmm/reading/volt
func (t Topics) InstrumentReading(instrument, parameter string) string {
	return fmt.Sprintf("%s/instrument/%s/reading/%s", t.Prefix(), instrument, parameter)
}

// DelegateFromTopic extracts the delegate name from any delegate topic.
func (t Topics) DelegateFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix()+"/delegate/")
	if !ok {
		return "", false
	}
	name, _, ok := strings.Cut(rest, "/")
	if !ok || name == "" {
		return "", false
	}
	return name, true
}
