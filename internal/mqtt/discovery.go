package mqtt

import (
	"fmt"
	"strings"
)

// DefaultDiscoveryPrefix is Home Assistant's default discovery prefix.
const DefaultDiscoveryPrefix = "homeassistant"

// DiscoveryConfig enables Home Assistant MQTT discovery.
type DiscoveryConfig struct {
	Enabled bool
	Prefix  string
	// Name is the friendly device name shown in Home Assistant.
	Name string
}

// HADiscoveryConfig is the discovery document for an MQTT cover.
type HADiscoveryConfig struct {
	Device              HADiscoveryDevice `json:"device"`
	Name                string            `json:"name"`
	UniqueId            string            `json:"unique_id"`
	ObjectID            string            `json:"object_id,omitempty"`
	Platform            string            `json:"platform"`
	DeviceClass         string            `json:"device_class,omitempty"`
	StateTopic          string            `json:"state_topic"`
	CommandTopic        string            `json:"command_topic"`
	AvTopic             string            `json:"availability_topic,omitempty"`
	PayloadAvailable    string            `json:"payload_available,omitempty"`
	PayloadNotAvailable string            `json:"payload_not_available,omitempty"`
	JSONAttrTopic       string            `json:"json_attributes_topic,omitempty"`
	PayloadOpen         string            `json:"payload_open"`
	PayloadClose        string            `json:"payload_close"`
	PayloadStop         string            `json:"payload_stop"`
	StateOpen           string            `json:"state_open"`
	StateOpening        string            `json:"state_opening"`
	StateClosed         string            `json:"state_closed"`
	StateClosing        string            `json:"state_closing"`
	StateStopped        string            `json:"state_stopped"`
	Optimistic          bool              `json:"optimistic"`
}

// HADiscoveryDevice groups entities under one device in Home Assistant.
type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// DiscoveryTopic is the retained config topic for the door cover.
func DiscoveryTopic(prefix, objectID string) string {
	if prefix == "" {
		prefix = DefaultDiscoveryPrefix
	}
	return fmt.Sprintf("%s/cover/%s/door/config", prefix, objectID)
}

// CoverDiscovery describes the door as a garage cover driven by the
// set-target topic and reporting the HomeKit letters.
func CoverDiscovery(t *Table, cfg DiscoveryConfig, version string) HADiscoveryConfig {
	id := objectID(t.prefix)
	name := cfg.Name
	if name == "" {
		name = t.prefix
	}
	return HADiscoveryConfig{
		Device: HADiscoveryDevice{
			Id:           []string{id},
			Manufacturer: "sweeney",
			Model:        "garage-door",
			Version:      version,
			Name:         name,
		},
		Name:                "Door",
		UniqueId:            id + "_door",
		ObjectID:            id,
		Platform:            "mqtt",
		DeviceClass:         "garage",
		StateTopic:          t.Topic(PathGetCurrent),
		CommandTopic:        t.Topic(PathSetTarget),
		AvTopic:             t.Topic(PathConnectionStatus),
		PayloadAvailable:    PayloadOnline,
		PayloadNotAvailable: PayloadOffline,
		JSONAttrTopic:       t.Topic(PathStatus),
		PayloadOpen:         "O",
		PayloadClose:        "C",
		PayloadStop:         "S",
		StateOpen:           "O",
		StateOpening:        "o",
		StateClosed:         "C",
		StateClosing:        "c",
		StateStopped:        "S",
	}
}

// objectID turns a topic prefix into an identifier Home Assistant accepts.
func objectID(prefix string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '_'
	}, strings.Trim(prefix, "/"))
	if id == "" {
		return "garage_door"
	}
	return id
}
