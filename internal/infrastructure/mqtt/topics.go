package mqtt

import (
	"fmt"
	"strings"
)

// Topics builds the bridge's outbound and inbound MQTT topics under a
// configurable prefix.
//
// Entity topics use the scheme {prefix}/entity/{slug}/{leaf}:
//
//	topics := mqtt.NewTopics("jeedombridge")
//	topics.EntityState("salon_lampe")
//	// Returns: "jeedombridge/entity/salon_lampe/state"
type Topics struct {
	Prefix string
}

// Topic leaves under {prefix}/entity/{slug}/.
const (
	LeafConfig  = "config"
	LeafState   = "state"
	LeafCommand = "set"
	LeafResult  = "result"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "jeedombridge"

// NewTopics returns a Topics for prefix, trimming surrounding slashes.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// EntityConfig returns the retained descriptor topic for an entity.
//
// Example: jeedombridge/entity/salon_lampe/config
func (t Topics) EntityConfig(slug string) string {
	return fmt.Sprintf("%s/entity/%s/%s", t.prefix(), slug, LeafConfig)
}

// EntityState returns the retained state topic for an entity.
//
// Example: jeedombridge/entity/salon_lampe/state
func (t Topics) EntityState(slug string) string {
	return fmt.Sprintf("%s/entity/%s/%s", t.prefix(), slug, LeafState)
}

// EntityCommand returns the inbound command topic for an entity.
//
// Example: jeedombridge/entity/salon_lampe/set
func (t Topics) EntityCommand(slug string) string {
	return fmt.Sprintf("%s/entity/%s/%s", t.prefix(), slug, LeafCommand)
}

// EntityResult returns the topic where dispatch outcomes are published.
//
// Example: jeedombridge/entity/salon_lampe/result
func (t Topics) EntityResult(slug string) string {
	return fmt.Sprintf("%s/entity/%s/%s", t.prefix(), slug, LeafResult)
}

// AllEntityCommands returns a pattern matching every entity command topic.
//
// Pattern: jeedombridge/entity/+/set
func (t Topics) AllEntityCommands() string {
	return fmt.Sprintf("%s/entity/+/%s", t.prefix(), LeafCommand)
}

// Status returns the bridge availability topic (also used for LWT).
//
// Example: jeedombridge/status
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// ParseEntityTopic splits an entity topic into slug and leaf.
// It returns ok=false when topic is not under {prefix}/entity/.
func (t Topics) ParseEntityTopic(topic string) (slug, leaf string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/entity/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// TopicSuffix returns the last path segment of topic.
//
// Jeedom's MQTT plugin encodes identifiers there, e.g.
// jeedom/cmd/event/1234 → "1234".
func TopicSuffix(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
