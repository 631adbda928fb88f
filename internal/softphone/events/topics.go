package events

import "fmt"

// Topic naming conventions for MQTT.
//
// Hierarchy:
//   <prefix>/<agent>/calls/<call_id>/<suffix>   - Per-call events
//   <prefix>/<agent>/device/<suffix>            - Registration and device errors
//
// Wildcard subscriptions:
//   <prefix>/+/calls/#                          - All call events
//   <prefix>/+/calls/+/ended                    - All call.ended events
//   <prefix>/<agent>/#                          - Everything for one agent

// DefaultPrefix is the default topic root
const DefaultPrefix = "agentphone"

const (
	SuffixIncoming = "incoming"
	SuffixState    = "state"
	SuffixEnded    = "ended"
	SuffixReady    = "ready"
	SuffixError    = "error"
)

// CallTopic builds a topic for a call event.
// Example: CallTopic("agentphone", "1001", "abc", "ended") => "agentphone/1001/calls/abc/ended"
func CallTopic(prefix, agent, callID, suffix string) string {
	return fmt.Sprintf("%s/%s/calls/%s/%s", prefix, agent, callID, suffix)
}

// DeviceTopic builds a topic for a device event.
// Example: DeviceTopic("agentphone", "1001", "ready") => "agentphone/1001/device/ready"
func DeviceTopic(prefix, agent, suffix string) string {
	return fmt.Sprintf("%s/%s/device/%s", prefix, agent, suffix)
}

// PatternCallEnded matches every agent's call.ended events under prefix.
func PatternCallEnded(prefix string) string {
	return prefix + "/+/calls/+/" + SuffixEnded
}

// SuffixFor returns the topic suffix for an event type.
func SuffixFor(t EventType) string {
	switch t {
	case CallIncoming:
		return SuffixIncoming
	case CallState:
		return SuffixState
	case CallEnded:
		return SuffixEnded
	case DeviceReady:
		return SuffixReady
	case DeviceError:
		return SuffixError
	default:
		return "unknown"
	}
}
