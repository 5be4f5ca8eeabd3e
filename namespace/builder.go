// Package namespace builds the topic, key and channel names the mirror
// sinks use, so the layout is the same across MQTT, Valkey and Kafka.
package namespace

import "strings"

// Builder constructs namespace-prefixed topics and keys.
type Builder struct {
	namespace string
}

// New creates a builder rooted at namespace (the MQTT root topic or the
// Valkey key prefix).
func New(namespace string) *Builder {
	return &Builder{namespace: namespace}
}

// --- MQTT (delimiter: /) ---

// MQTTTagTopic returns the topic for a tag value: {ns}/{plc}/tags/{tag}
func (b *Builder) MQTTTagTopic(plc, tag string) string {
	return b.namespace + "/" + plc + "/tags/" + tag
}

// MQTTWriteTopic returns the topic for write requests: {ns}/{plc}/write
func (b *Builder) MQTTWriteTopic(plc string) string {
	return b.namespace + "/" + plc + "/write"
}

// MQTTWriteSubscription matches the write topic of every PLC: {ns}/+/write
func (b *Builder) MQTTWriteSubscription() string {
	return b.MQTTWriteTopic("+")
}

// MQTTWriteResponseTopic returns the topic for write responses: {ns}/{plc}/write/response
func (b *Builder) MQTTWriteResponseTopic(plc string) string {
	return b.MQTTWriteTopic(plc) + "/response"
}

// PLCFromWriteTopic extracts the PLC segment of a write topic.
func (b *Builder) PLCFromWriteTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.namespace+"/")
	if !ok {
		return "", false
	}
	name, ok := strings.CutSuffix(rest, "/write")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// --- Valkey (delimiter: :) ---

// ValkeyTagKey returns the key for a tag value: {ns}:{plc}:tags:{tag}
func (b *Builder) ValkeyTagKey(plc, tag string) string {
	return joinKey(b.namespace, plc, "tags", tag)
}

// ValkeyChangesChannel returns the channel for PLC changes: {ns}:{plc}:changes
func (b *Builder) ValkeyChangesChannel(plc string) string {
	return joinKey(b.namespace, plc, "changes")
}

// ValkeyAllChangesChannel returns the channel for all changes: {ns}:_all:changes
func (b *Builder) ValkeyAllChangesChannel() string {
	return joinKey(b.namespace, "_all", "changes")
}

// ValkeyWriteQueue returns the list key for write requests: {ns}:writes
func (b *Builder) ValkeyWriteQueue() string {
	return joinKey(b.namespace, "writes")
}

// ValkeyWriteResponseChannel returns the channel for write responses: {ns}:write:responses
func (b *Builder) ValkeyWriteResponseChannel() string {
	return joinKey(b.namespace, "write", "responses")
}

// joinKey joins key segments with colons, trimming leading/trailing colons
// from each segment to avoid empty key parts (e.g., "foo::bar" or ":foo:bar:").
func joinKey(segments ...string) string {
	var parts []string
	for _, s := range segments {
		s = strings.Trim(s, ":")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ":")
}

// --- Kafka ---

// KafkaKey returns the partitioning key for a tag: {plc}.{tag}
func KafkaKey(plc, tag string) string {
	return plc + "." + tag
}
