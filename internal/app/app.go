// Package app wires the bridge together: one execution-service cache, one
// discovery service and one connector registry per process.
package app

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/discovery"
	"github.com/yolodolo42/walletbridge/internal/extension"
	"github.com/yolodolo42/walletbridge/internal/logging"
	"github.com/yolodolo42/walletbridge/internal/network"
	"github.com/yolodolo42/walletbridge/internal/provider"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
	"github.com/yolodolo42/walletbridge/internal/session"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

const accountPollInterval = 2 * time.Second

type Options struct {
	Logger *zap.Logger
	// Password unlocks keystore keys
	Password connector.PasswordFunc
	// Approve confirms requests to keystore-served external signers.
	// Nil rejects them.
	Approve provider.ApproveFunc
	// PXEFactory defaults to dialing the node over JSON-RPC
	PXEFactory pxe.Factory
	// LightKeystore uses fast scrypt parameters
	LightKeystore bool
}

// App owns every long-lived component
type App struct {
	Config      *Config
	NetworkKey  string
	Network     *network.Config
	Logger      *zap.Logger
	Keystore    *wallet.KeystoreManager
	Credentials *wallet.CredentialStore
	Ledger      *receipts.Store
	Cache       *pxe.InstanceCache
	Bus         *discovery.Bus
	Discovery   *discovery.Service
	Registry    *connector.Registry
	Sessions    *session.Manager
	Reconnector *session.Reconnector
	Embedded    *connector.Embedded
	Browser     *connector.BrowserManaged // nil unless configured

	poller    receipts.Poller
	announced int

	serveCtx context.Context
	cancel   context.CancelFunc
	closers  []func()
	once     sync.Once
}

// New builds the application for cfg. Nothing connects yet; wallets start
// announcing themselves and the browser wallet is probed in the background.
func New(ctx context.Context, cfg *Config, opts Options) (*App, error) {
	logger := logging.OrNop(opts.Logger)
	if opts.Password == nil {
		opts.Password = func(context.Context, bool) (string, error) {
			return "", fmt.Errorf("no password source configured")
		}
	}
	if opts.PXEFactory == nil {
		opts.PXEFactory = pxe.DialRPC
	}

	key := strings.ToLower(cfg.Network)
	net, err := cfg.NetworkSet().Get(key)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		NetworkKey: key,
		Network:    net,
		Logger:     logger,
		poller:     receipts.NewPoller(cfg.Receipts.Attempts, cfg.Receipts.Interval),
	}
	a.serveCtx, a.cancel = context.WithCancel(context.Background())

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	newKeystore := wallet.NewKeystoreManager
	if opts.LightKeystore {
		newKeystore = wallet.NewLightKeystoreManager
	}
	if a.Keystore, err = newKeystore(cfg.DataDir); err != nil {
		return nil, fmt.Errorf("failed to open keystore: %w", err)
	}
	if a.Credentials, err = wallet.NewCredentialStore(filepath.Join(cfg.DataDir, "embedded")); err != nil {
		return nil, err
	}
	if a.Ledger, err = receipts.Open(cfg.DataDir); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = a.Ledger.Close() })

	fallback, sponsors, err := cfg.Sponsors()
	if err != nil {
		return nil, err
	}
	a.Cache = pxe.NewInstanceCache(opts.PXEFactory, pxe.CacheConfig{
		SponsoredFPC: fallback,
		Sponsors:     sponsors,
	}, logger)
	a.closers = append(a.closers, a.Cache.Close)

	a.Bus = discovery.NewBus()
	a.Discovery = discovery.NewService(a.Bus, logger)
	a.closers = append(a.closers, a.Discovery.Teardown)

	target := connector.Target{Network: key, NodeURL: net.NodeURL, L1ChainID: net.L1ChainID}
	factories := a.connectorFactories(ctx, target, opts)

	a.Registry = connector.NewRegistry(factories, cfg.Connectors.Priority)

	store, err := session.NewStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.Sessions = session.NewManager(key, a.Registry, store, logger)
	a.Reconnector = session.NewReconnector(key, a.Registry, store, logger)

	if a.Browser != nil {
		a.Browser.StartAsync(a.serveCtx)
	}
	a.Discovery.Discover()

	ok = true
	return a, nil
}

func (a *App) connectorFactories(ctx context.Context, target connector.Target, opts Options) []connector.Factory {
	cfg := a.Config
	logger := a.Logger

	a.Embedded = connector.NewEmbedded(connector.EmbeddedConfig{
		Target:      target,
		Keystore:    a.Keystore,
		Credentials: a.Credentials,
		Password:    opts.Password,
		Cache:       a.Cache,
		Poller:      a.poller,
		Ledger:      a.Ledger,
		Logger:      logger.Named("embedded"),
	})
	factories := []connector.Factory{func() connector.Connector { return a.Embedded }}

	state := connector.NewExternalState()
	for _, s := range cfg.ExternalSigners {
		s := s
		a.serveSigner(ctx, s, target, opts)
		factories = append(factories, func() connector.Connector {
			return connector.NewExternalSigner(connector.ExternalSignerConfig{
				RDNS:      s.RDNS,
				Label:     s.Name,
				Target:    target,
				Discovery: a.Discovery,
				Cache:     a.Cache,
				State:     state,
				Poller:    a.poller,
				Ledger:    a.Ledger,
				Logger:    logger.Named("external"),
			})
		})
	}

	if cfg.BrowserWallet.RPCURL != "" {
		adapter := extension.NewRPCAdapter(cfg.BrowserWallet.RPCURL, logger.Named("extension"))
		a.closers = append(a.closers, adapter.Close)
		a.Browser = connector.NewBrowserManaged(connector.BrowserManagedConfig{
			ID:      cfg.BrowserWallet.ID,
			Label:   cfg.BrowserWallet.Label,
			Adapter: adapter,
			Logger:  logger.Named("browser"),
		})
		a.closers = append(a.closers, a.Browser.Close)
		factories = append(factories, func() connector.Connector { return a.Browser })
	}
	return factories
}

// serveSigner makes a configured external signer discoverable on the bus
func (a *App) serveSigner(ctx context.Context, s ExternalSignerConfig, target connector.Target, opts Options) {
	var p provider.Provider
	switch {
	case s.RPCURL != "":
		rp, err := provider.DialRPC(ctx, s.RPCURL, a.Logger)
		if err != nil {
			a.Logger.Sugar().Warnw("External signer unreachable", "rdns", s.RDNS, "url", s.RPCURL, "error", err)
			return
		}
		go rp.WatchAccounts(a.serveCtx, accountPollInterval)
		a.closers = append(a.closers, rp.Close)
		p = rp

	case s.Keystore != "":
		if !common.IsHexAddress(s.Keystore) {
			a.Logger.Sugar().Warnw("Invalid keystore address for external signer", "rdns", s.RDNS, "keystore", s.Keystore)
			return
		}
		signer := wallet.NewUnlockingSigner(a.Keystore, common.HexToAddress(s.Keystore), func() (string, error) {
			return opts.Password(a.serveCtx, false)
		})
		a.closers = append(a.closers, signer.Lock)
		p = provider.NewLocalProvider(big.NewInt(target.L1ChainID), opts.Approve, signer)
	}

	name := s.Name
	if name == "" {
		name = s.RDNS
	}
	a.Bus.Serve(a.serveCtx, discovery.Announcement{
		Info:     discovery.Info{UUID: uuid.NewString(), Name: name, Icon: s.Icon, RDNS: s.RDNS},
		Provider: p,
	})
	a.announced++
}

// AwaitProviders waits until every configured external signer has announced
// itself, or timeout passes, and returns what was discovered.
func (a *App) AwaitProviders(ctx context.Context, timeout time.Duration) []discovery.Announcement {
	done := make(chan struct{})
	var once sync.Once
	unsubscribe := a.Discovery.Subscribe(func(providers []discovery.Announcement) {
		if len(providers) >= a.announced {
			once.Do(func() { close(done) })
		}
	})
	defer unsubscribe()

	select {
	case <-done:
	case <-time.After(timeout):
		a.Logger.Sugar().Debugw("Timed out waiting for wallet announcements", "expected", a.announced)
	case <-ctx.Done():
	}
	return a.Discovery.Providers()
}

// Close releases resources in reverse order of creation. Persisted
// connections are kept. Safe to call more than once.
func (a *App) Close() {
	a.once.Do(func() {
		a.cancel()
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		_ = a.Logger.Sync()
	})
}
