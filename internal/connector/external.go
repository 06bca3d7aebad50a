package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/discovery"
	"github.com/yolodolo42/walletbridge/internal/logging"
	"github.com/yolodolo42/walletbridge/internal/provider"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
	"github.com/yolodolo42/walletbridge/internal/signerbridge"
)

// ExternalIDPrefix prefixes the RDNS of an external signer to form its connector id
const ExternalIDPrefix = "external:"

// ExternalState is the one external address that is connected across all
// external-signer connectors.
type ExternalState struct {
	mu          sync.RWMutex
	connectorID string
	address     common.Address
	connected   bool
}

func NewExternalState() *ExternalState {
	return &ExternalState{}
}

// Set records addr as connected through connectorID
func (s *ExternalState) Set(connectorID string, addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectorID = connectorID
	s.address = addr
	s.connected = true
}

// Clear forgets the connected address if connectorID set it
func (s *ExternalState) Clear(connectorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connectorID == connectorID {
		s.connectorID = ""
		s.address = common.Address{}
		s.connected = false
	}
}

// Connected returns the connected external address
func (s *ExternalState) Connected() (connectorID string, addr common.Address, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectorID, s.address, s.connected
}

// ProviderSource looks up discovered providers. *discovery.Service satisfies it.
type ProviderSource interface {
	Provider(rdns string) (discovery.Announcement, bool)
}

type ExternalSignerConfig struct {
	RDNS      string
	Label     string
	Target    Target
	Discovery ProviderSource
	Cache     *pxe.InstanceCache
	State     *ExternalState
	Poller    receipts.Poller
	Ledger    ReceiptRecorder // optional
	Logger    *zap.Logger
}

// ExternalSigner derives its account from an EVM signing extension found by
// discovery. The extension signs once to derive keys and once per transaction.
type ExternalSigner struct {
	cfg    ExternalSignerConfig
	logger *zap.Logger
	status statusTracker

	connectMu sync.Mutex

	mu       sync.RWMutex
	bridge   *signerbridge.Bridge
	provider provider.Provider
	account  *pxe.Account
	address  *common.Address
	unwatch  func()
}

var _ AppManaged = (*ExternalSigner)(nil)

func NewExternalSigner(cfg ExternalSignerConfig) *ExternalSigner {
	if cfg.Label == "" {
		cfg.Label = cfg.RDNS
	}
	if cfg.State == nil {
		cfg.State = NewExternalState()
	}
	return &ExternalSigner{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

func (e *ExternalSigner) Info() Info {
	return Info{ID: ExternalIDPrefix + e.cfg.RDNS, Label: e.cfg.Label, Type: TypeExternalSigner}
}

// Status is connected only while the shared connected address is this
// connector's external address.
func (e *ExternalSigner) Status() Status {
	_, installed := e.cfg.Discovery.Provider(e.cfg.RDNS)
	state, lastErr := e.status.get()

	st := Status{IsInstalled: installed, State: StateDisconnected, Error: lastErr}
	switch {
	case state == StateConnecting:
		st.State = StateConnecting
	case e.ownsSharedAddress():
		st.State = StateConnected
	}
	return st
}

func (e *ExternalSigner) ownsSharedAddress() bool {
	_, shared, ok := e.cfg.State.Connected()
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.address != nil && *e.address == shared
}

func (e *ExternalSigner) Account() *pxe.Account {
	if !e.ownsSharedAddress() {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account
}

// ExternalAddress returns the EVM address the account is linked to, if known
func (e *ExternalSigner) ExternalAddress() (common.Address, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.address == nil {
		return common.Address{}, false
	}
	return *e.address, true
}

// getBridge builds the bridge from the discovered provider on first use
func (e *ExternalSigner) getBridge() (*signerbridge.Bridge, provider.Provider, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.bridge != nil {
		return e.bridge, e.provider, nil
	}
	a, ok := e.cfg.Discovery.Provider(e.cfg.RDNS)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrProviderNotFound, e.cfg.RDNS)
	}
	e.provider = a.Provider
	e.bridge = signerbridge.New(signerbridge.NewProviderSigner(a.Provider), e.logger)
	return e.bridge, e.provider, nil
}

// Connect asks the extension for its account, derives the linked account's
// keys from one signature and registers the account in the shared service.
// A rejected signature is reported in Status and not retried.
func (e *ExternalSigner) Connect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	if e.Account() != nil {
		return nil
	}

	e.status.set(StateConnecting, nil)
	if err := e.connect(ctx); err != nil {
		e.status.set(StateDisconnected, err)
		e.logger.Sugar().Warnw("External signer connection failed", "rdns", e.cfg.RDNS, "error", err)
		return err
	}
	e.status.set(StateConnected, nil)
	return nil
}

func (e *ExternalSigner) connect(ctx context.Context) error {
	bridge, p, err := e.getBridge()
	if err != nil {
		return err
	}

	addr, err := bridge.ExternalAddress(ctx)
	if err != nil {
		return fmt.Errorf("failed to get external account: %w", err)
	}
	e.checkChain(ctx, p)

	keys, err := bridge.KeyMaterial(ctx)
	if err != nil {
		return fmt.Errorf("failed to derive account keys: %w", err)
	}

	inst, err := e.cfg.Cache.GetOrCreateInstance(ctx, e.cfg.Target.NodeURL, e.cfg.Target.Network)
	if err != nil {
		return err
	}
	account, err := inst.Wallet.Register(ctx, keys.AccountKeys(), bridge)
	if err != nil {
		return err
	}
	if _, err := inst.Wallet.Activate(account.Address); err != nil {
		return err
	}

	e.mu.Lock()
	prevUnwatch := e.unwatch
	e.account = account
	e.address = &addr
	e.unwatch = p.On(provider.EventAccountsChanged, e.onAccountsChanged)
	e.mu.Unlock()

	// reconnecting replaces the listener from the previous session
	if prevUnwatch != nil {
		prevUnwatch()
	}

	e.cfg.State.Set(e.Info().ID, addr)
	e.logger.Sugar().Infow("External signer connected",
		"rdns", e.cfg.RDNS,
		"external_address", addr.Hex(),
		"address", account.Address.Hex(),
	)
	return nil
}

// checkChain logs when the extension is on another L1 than the network expects
func (e *ExternalSigner) checkChain(ctx context.Context, p provider.Provider) {
	if e.cfg.Target.L1ChainID == 0 {
		return
	}
	chainID, err := provider.ChainID(ctx, p)
	if err != nil {
		e.logger.Sugar().Debugw("Could not read external signer chain id", "rdns", e.cfg.RDNS, "error", err)
		return
	}
	if !chainID.IsInt64() || chainID.Int64() != e.cfg.Target.L1ChainID {
		e.logger.Sugar().Warnw("External signer is on a different chain",
			"rdns", e.cfg.RDNS,
			"chain_id", chainID.String(),
			"expected", e.cfg.Target.L1ChainID,
		)
	}
}

// onAccountsChanged disconnects when the extension stops exposing the
// linked address, e.g. after the user revokes access.
func (e *ExternalSigner) onAccountsChanged(data json.RawMessage) {
	var addrs []common.Address
	if err := json.Unmarshal(data, &addrs); err != nil {
		e.logger.Sugar().Debugw("Ignoring malformed accountsChanged", "rdns", e.cfg.RDNS, "error", err)
		return
	}

	current, ok := e.ExternalAddress()
	if !ok || (len(addrs) > 0 && addrs[0] == current) {
		return
	}
	e.logger.Sugar().Infow("External account changed, disconnecting", "rdns", e.cfg.RDNS, "external_address", current.Hex())
	if err := e.Disconnect(context.Background()); err != nil {
		e.logger.Sugar().Warnw("Disconnect after account change failed", "rdns", e.cfg.RDNS, "error", err)
	}
}

// Disconnect releases the bridge and its cached keys. The next Connect
// signs again.
func (e *ExternalSigner) Disconnect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	e.mu.Lock()
	account, bridge, unwatch := e.account, e.bridge, e.unwatch
	e.account, e.address, e.bridge, e.provider, e.unwatch = nil, nil, nil, nil, nil
	e.mu.Unlock()

	if unwatch != nil {
		unwatch()
	}
	e.cfg.State.Clear(e.Info().ID)
	if account != nil {
		if inst := e.instance(); inst != nil {
			inst.Wallet.Deactivate(account.Address)
		}
	}
	if bridge != nil {
		bridge.Disconnect()
	}
	e.status.set(StateDisconnected, nil)
	return nil
}

// HasStandingPermission reports, without prompting, whether the extension
// already exposes an account to this application.
func (e *ExternalSigner) HasStandingPermission(ctx context.Context) bool {
	a, ok := e.cfg.Discovery.Provider(e.cfg.RDNS)
	if !ok {
		return false
	}
	addrs, err := provider.Accounts(ctx, a.Provider)
	if err != nil {
		e.logger.Sugar().Debugw("eth_accounts failed", "rdns", e.cfg.RDNS, "error", err)
		return false
	}
	return len(addrs) > 0
}

// EnsureDeployed deploys the linked account if it is not yet on chain
func (e *ExternalSigner) EnsureDeployed(ctx context.Context) (bool, error) {
	account := e.Account()
	if account == nil {
		return false, ErrNotConnected
	}
	inst := e.instance()
	if inst == nil {
		return false, ErrPXENotReady
	}
	d := deployer{
		network:     e.cfg.Target.Network,
		connectorID: e.Info().ID,
		poller:      e.cfg.Poller,
		ledger:      e.cfg.Ledger,
		logger:      e.logger,
	}
	return d.ensureDeployed(ctx, inst, account)
}

func (e *ExternalSigner) instance() *pxe.Instance {
	return e.cfg.Cache.GetExistingInstance(e.cfg.Target.NodeURL, e.cfg.Target.Network)
}

func (e *ExternalSigner) PXE() (pxe.Service, error) {
	inst := e.instance()
	if inst == nil {
		return nil, ErrPXENotReady
	}
	return inst.Service, nil
}

func (e *ExternalSigner) AccountWallet() (*pxe.AccountWallet, error) {
	inst := e.instance()
	if inst == nil {
		return nil, ErrPXENotReady
	}
	return inst.Wallet, nil
}

func (e *ExternalSigner) SponsoredFeePaymentMethod(ctx context.Context) (pxe.FeePaymentMethod, error) {
	inst := e.instance()
	if inst == nil {
		return pxe.FeePaymentMethod{}, ErrPXENotReady
	}
	return inst.SponsoredFees.Method(ctx)
}
