// Package service implements the broker adapter: topic formatting,
// server selection with a TTL cache, and JSON publish
package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"takt/internal/core/topic"
	"takt/internal/platform/logger"
	"takt/internal/platform/store"
	brokerdom "takt/internal/services/broker/domain"
)

// FallbackServer is the ultimate default when nothing is configured
const FallbackServer = "Local Broker"

// Config controls server-name caching
type Config struct {
	NameTTL time.Duration // default 60s
}

// Service implements domain.PublisherPort
type Service struct {
	MQ    store.Broker
	Names brokerdom.NameSource // may be nil
	Cfg   Config

	now func() time.Time

	mu       sync.Mutex
	server   string
	serverAt time.Time
}

// New constructs the broker service
func New(mq store.Broker, names brokerdom.NameSource, cfg Config) *Service {
	if mq == nil {
		panic("broker.Service requires a non nil broker seam")
	}
	if cfg.NameTTL <= 0 {
		cfg.NameTTL = 60 * time.Second
	}
	return &Service{MQ: mq, Names: names, Cfg: cfg, now: time.Now}
}

// Publish implements domain.PublisherPort
func (s *Service) Publish(ctx context.Context, topicStr string, payload any, qos byte, retain bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	server := s.Server(ctx)
	if err := s.MQ.Publish(ctx, server, topicStr, body, qos, retain); err != nil {
		logger.C(ctx).Warn().Err(err).Str("topic", topicStr).Str("server", server).
			Msg("broker: publish dropped")
		return err
	}
	return nil
}

// TopicFor implements domain.PublisherPort
func (s *Service) TopicFor(h topic.Hierarchy, scope string) string {
	return topic.Build(h, scope)
}

// Server implements domain.PublisherPort. Resolution order: configured
// BrokerName, then the first enumerated profile, then FallbackServer.
// The resolved name is cached for NameTTL
func (s *Service) Server(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != "" && s.now().Sub(s.serverAt) < s.Cfg.NameTTL {
		return s.server
	}

	name := ""
	if s.Names != nil {
		n, err := s.Names.BrokerName(ctx)
		if err != nil {
			logger.C(ctx).Debug().Err(err).Msg("broker: name lookup failed")
		} else {
			name = n
		}
	}
	if name == "" {
		if names := s.MQ.ServerNames(); len(names) > 0 {
			name = s.MQ.DefaultServer()
			if name == "" {
				name = names[0]
			}
		}
	}
	if name == "" {
		name = FallbackServer
	}

	s.server = name
	s.serverAt = s.now()
	return name
}
