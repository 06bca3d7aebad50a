package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/logging"
)

var ErrUnknownConnector = errors.New("unknown connector")

// Manager connects and disconnects registry connectors and keeps the
// persisted record in step.
type Manager struct {
	network  string
	registry *connector.Registry
	store    *Store
	logger   *zap.Logger
}

func NewManager(network string, registry *connector.Registry, store *Store, logger *zap.Logger) *Manager {
	return &Manager{network: network, registry: registry, store: store, logger: logging.OrNop(logger)}
}

// Connect connects the connector with id and remembers it for the next start
func (m *Manager) Connect(ctx context.Context, id string) (connector.Connector, error) {
	c, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnector, id)
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	info := c.Info()
	if err := m.store.Save(m.network, PersistedConnection{ConnectorID: info.ID, WalletType: info.Type}); err != nil {
		m.logger.Sugar().Warnw("Failed to persist connection", "connector", info.ID, "error", err)
	}
	return c, nil
}

// Disconnect disconnects the connector with id and forgets the record if it
// pointed at it.
func (m *Manager) Disconnect(ctx context.Context, id string) error {
	c, ok := m.registry.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConnector, id)
	}
	if err := c.Disconnect(ctx); err != nil {
		return err
	}

	rec, err := m.store.Load(m.network)
	if err != nil {
		m.logger.Sugar().Warnw("Failed to read persisted connection", "error", err)
		return nil
	}
	if rec != nil && rec.ConnectorID == id {
		if err := m.store.Clear(m.network); err != nil {
			m.logger.Sugar().Warnw("Failed to clear persisted connection", "error", err)
		}
	}
	return nil
}

// Reconnector restores the persisted connection. It acts at most once.
type Reconnector struct {
	network  string
	registry *connector.Registry
	store    *Store
	logger   *zap.Logger
	ran      atomic.Bool
}

func NewReconnector(network string, registry *connector.Registry, store *Store, logger *zap.Logger) *Reconnector {
	return &Reconnector{network: network, registry: registry, store: store, logger: logging.OrNop(logger)}
}

type credentialed interface {
	HasCredentials() bool
}

type permissioned interface {
	HasStandingPermission(ctx context.Context) bool
}

// Run reconnects the persisted connector when that can happen without
// prompting the user. Only the first call does anything. Failures are
// logged, never returned.
func (r *Reconnector) Run(ctx context.Context) {
	if !r.ran.CompareAndSwap(false, true) {
		return
	}
	log := r.logger.Sugar()

	if r.registry.Busy() {
		log.Debugw("Skipping auto-reconnect, a connector is already active")
		return
	}

	rec, err := r.store.Load(r.network)
	if err != nil {
		log.Warnw("Failed to read persisted connection", "error", err)
		return
	}
	if rec == nil {
		return
	}

	c, ok := r.registry.Get(rec.ConnectorID)
	if !ok {
		log.Infow("Persisted connector is no longer configured", "connector", rec.ConnectorID)
		return
	}
	if rec.WalletType != "" && rec.WalletType != c.Info().Type {
		log.Infow("Persisted connector changed type", "connector", rec.ConnectorID, "was", rec.WalletType, "now", c.Info().Type)
		return
	}
	if !r.canReconnect(ctx, c) {
		log.Debugw("Auto-reconnect needs user interaction, skipping", "connector", rec.ConnectorID)
		return
	}

	log.Infow("Reconnecting", "connector", rec.ConnectorID)
	if err := c.Connect(ctx); err != nil {
		log.Warnw("Auto-reconnect failed", "connector", rec.ConnectorID, "error", err)
	}
}

func (r *Reconnector) canReconnect(ctx context.Context, c connector.Connector) bool {
	switch c.Info().Type {
	case connector.TypeEmbedded:
		cc, ok := c.(credentialed)
		return ok && cc.HasCredentials()
	case connector.TypeExternalSigner:
		p, ok := c.(permissioned)
		return ok && p.HasStandingPermission(ctx)
	case connector.TypeBrowserManaged:
		return true
	default:
		return false
	}
}
