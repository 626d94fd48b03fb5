// Package domain defines the broker publish port used by the engines
package domain

import (
	"context"

	"takt/internal/core/topic"
)

// PublisherPort publishes UTF-8 JSON payloads to the plant broker.
// Publish is fire-and-forget: failures log and drop, open rows
// republish on the next pass
type PublisherPort interface {
	// Publish marshals payload and sends it on topic with (qos, retain)
	Publish(ctx context.Context, topicStr string, payload any, qos byte, retain bool) error

	// TopicFor renders the topic for a scope slug under a hierarchy
	TopicFor(h topic.Hierarchy, scope string) string

	// Server returns the currently selected broker profile name
	Server(ctx context.Context) string
}

// NameSource resolves the plant's configured broker name, typically
// from the well-known BrokerName setting
type NameSource interface {
	BrokerName(ctx context.Context) (string, error)
}
