// Package module wires the broker adapter as a modkit.Module
package module

import (
	"context"
	"time"

	"takt/internal/modkit"
	"takt/internal/modkit/httpkit"
	modreg "takt/internal/modkit/module"
	"takt/internal/modkit/repokit"

	brokerdom "takt/internal/services/broker/domain"
	brokerrepo "takt/internal/services/broker/repo"
	brokerservice "takt/internal/services/broker/service"
)

// Ports exported by the broker module
type Ports struct {
	Publisher brokerdom.PublisherPort
}

// Module implements modkit.Module for the broker adapter
type Module struct {
	deps  modkit.Deps
	ports Ports
}

// New constructs and wires the broker module
func New(deps modkit.Deps) *Module {
	ttl := time.Duration(deps.Cfg.Prefix("CORE_BROKER_").MayInt("NAME_CACHE_SEC", 60)) * time.Second

	var names brokerdom.NameSource
	if deps.PG != nil {
		names = &pgNames{db: deps.PG, binder: brokerrepo.NewPG()}
	}

	svc := brokerservice.New(deps.MQ, names, brokerservice.Config{NameTTL: ttl})

	m := &Module{deps: deps}
	m.ports = Ports{Publisher: svc}
	return m
}

// Name returns the module name
func (m *Module) Name() string { return "broker" }

// Ports returns the module ports
func (m *Module) Ports() any { return m.ports }

// Prefix returns the module config prefix (none)
func (m *Module) Prefix() string { return "" }

// MountRoutes is a no-op: the broker adapter has no HTTP routes
func (m *Module) MountRoutes(_ httpkit.Router) {}

// Register resolves the module into the shared registry
func Register(deps modkit.Deps) {
	modreg.Register("broker", New(deps))
}

type pgNames struct {
	db     repokit.TxRunner
	binder repokit.Binder[brokerrepo.Storage]
}

func (n *pgNames) BrokerName(ctx context.Context) (string, error) {
	var name string
	err := n.db.Tx(ctx, func(q repokit.Queryer) error {
		var e error
		name, e = n.binder.Bind(q).BrokerName(ctx)
		return e
	})
	return name, err
}
