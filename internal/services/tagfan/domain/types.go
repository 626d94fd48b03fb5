// Package domain defines the tag-change fan-out types and ports
package domain

import (
	"time"

	"takt/internal/core/payload"
)

// Kind classifies a configured broker topic
type Kind int

// Topic kinds
const (
	KindStatus Kind = iota // per-station status snapshot
	KindNode               // tri-state AND group (faults, andons, alerts)
	KindCycle              // first good numeric among members
)

// ParseKind maps the stored kind string onto Kind. Unknown strings
// default to KindNode, the most common group type
func ParseKind(s string) Kind {
	switch s {
	case "status":
		return KindStatus
	case "cycle":
		return KindCycle
	}
	return KindNode
}

// TopicConfig is one configured broker topic with its member tag paths.
// Status topics carry exactly one member, the station root; node and
// cycle topics carry their group members in configured order
type TopicConfig struct {
	ConfigID int64
	TopicID  int64
	Kind     Kind
	Topic    string
	QoS      byte
	Retain   bool
	Paths    []string
}

// TagEvent is one raw tag change off the plant event bus. Initial
// values arrive with Initial set and seed the cache without triggering
// a publish
type TagEvent struct {
	Path    string    `json:"path"`
	Prev    any       `json:"prev"`
	Curr    any       `json:"curr"`
	Quality string    `json:"quality"`
	TS      time.Time `json:"ts"`
	Initial bool      `json:"initial,omitempty"`
}

// PublishLogRow is one typed row recorded per broker publish
type PublishLogRow struct {
	ConfigID  int64
	TopicID   int64
	QoS       byte
	Retain    bool
	Value     payload.Value
	QualityOK bool
	Quality   string
	SrcTS     time.Time
}
