package mqtt

import "fmt"

// Topic prefixes for the bridge's MQTT hierarchy.
//
//	iobridge/input/{device}/{zone}     inbound zone levels (mqttin driver)
//	iobridge/state/{class}/{zone}      mirrored zone edges
//	iobridge/diagnostic/{class}        mirrored diagnostic events
//	iobridge/led/{device}/{index}      mirrored LED writes
//	iobridge/system/status             online/offline (LWT)
const (
	// TopicPrefix is the root of every bridge topic.
	TopicPrefix = "iobridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ZoneState("button_ring", "BA3")
//	// Returns: "iobridge/state/button_ring/BA3"
type Topics struct{}

// DeviceInput returns the topic a device publishes one zone level on.
//
// Example: iobridge/input/ring-1/BA3
func (Topics) DeviceInput(device, zone string) string {
	return fmt.Sprintf("%s/input/%s/%s", TopicPrefix, device, zone)
}

// DeviceInputs returns a pattern matching every zone of one device.
//
// Pattern: iobridge/input/ring-1/+
func (Topics) DeviceInputs(device string) string {
	return fmt.Sprintf("%s/input/%s/+", TopicPrefix, device)
}

// ZoneState returns the topic accepted zone edges are mirrored to.
//
// Example: iobridge/state/touch_panel/A1
func (Topics) ZoneState(class, zone string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, class, zone)
}

// Diagnostic returns the topic diagnostic events for a device class are
// mirrored to.
//
// Example: iobridge/diagnostic/led_device
func (Topics) Diagnostic(class string) string {
	return fmt.Sprintf("%s/diagnostic/%s", TopicPrefix, class)
}

// LED returns the topic an LED write is mirrored to.
//
// Example: iobridge/led/strip-1/7
func (Topics) LED(device string, index int) string {
	return fmt.Sprintf("%s/led/%s/%d", TopicPrefix, device, index)
}

// SystemStatus returns the system status topic carrying the LWT.
//
// Example: iobridge/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllZoneStates returns a pattern matching every mirrored zone edge.
//
// Pattern: iobridge/state/+/+
func (Topics) AllZoneStates() string {
	return TopicPrefix + "/state/+/+"
}

// AllDiagnostics returns a pattern matching every mirrored diagnostic.
//
// Pattern: iobridge/diagnostic/+
func (Topics) AllDiagnostics() string {
	return TopicPrefix + "/diagnostic/+"
}

// AllTopics returns a pattern matching all bridge topics.
//
// Pattern: iobridge/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
