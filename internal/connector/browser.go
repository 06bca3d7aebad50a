package connector

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/extension"
	"github.com/yolodolo42/walletbridge/internal/logging"
	"github.com/yolodolo42/walletbridge/internal/pxe"
)

type BrowserManagedConfig struct {
	ID      string
	Label   string
	Adapter extension.Adapter
	Logger  *zap.Logger
}

// BrowserManaged hands every operation to a wallet extension that manages
// its accounts itself. Construction does no I/O; Start detects the wallet.
type BrowserManaged struct {
	cfg    BrowserManagedConfig
	logger *zap.Logger
	status statusTracker

	startMu     sync.Mutex
	initialized bool
	removeFn    func()

	mu        sync.RWMutex
	installed bool
	// active is set by Connect and cleared by Disconnect. Account changes
	// are ignored while it is unset.
	active  bool
	marker  uuid.UUID
	caip    string
	account *pxe.Account

	hydrations sync.WaitGroup
}

var _ ExtensionManaged = (*BrowserManaged)(nil)

func NewBrowserManaged(cfg BrowserManagedConfig) *BrowserManaged {
	if cfg.ID == "" {
		cfg.ID = "browser"
	}
	if cfg.Label == "" {
		cfg.Label = "Browser wallet"
	}
	return &BrowserManaged{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

func (b *BrowserManaged) Info() Info {
	return Info{ID: b.cfg.ID, Label: b.cfg.Label, Type: TypeBrowserManaged}
}

func (b *BrowserManaged) Status() Status {
	state, lastErr := b.status.get()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{IsInstalled: b.installed, State: state, Error: lastErr}
}

func (b *BrowserManaged) Account() *pxe.Account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.account
}

func (b *BrowserManaged) CaipAccount() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caip
}

// Start detects the extension and subscribes to its account changes. It is
// safe to call again after a failure.
func (b *BrowserManaged) Start(ctx context.Context) error {
	b.startMu.Lock()
	defer b.startMu.Unlock()

	if b.initialized {
		return nil
	}
	if err := b.cfg.Adapter.Init(ctx); err != nil {
		b.setInstalled(false)
		return fmt.Errorf("failed to initialize %s: %w", b.cfg.ID, err)
	}
	b.setInstalled(true)
	b.removeFn = b.cfg.Adapter.OnAccountsChanged(b.onAccountsChanged)
	b.initialized = true
	return nil
}

// StartAsync runs Start in the background. Failures are only logged; Connect
// retries initialization.
func (b *BrowserManaged) StartAsync(ctx context.Context) {
	go func() {
		if err := b.Start(ctx); err != nil {
			b.logger.Sugar().Warnw("Browser wallet initialization failed", "connector", b.cfg.ID, "error", err)
		}
	}()
}

func (b *BrowserManaged) setInstalled(installed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.installed = installed
}

func (b *BrowserManaged) Connect(ctx context.Context) error {
	b.status.set(StateConnecting, nil)

	if err := b.Start(ctx); err != nil {
		b.status.set(StateDisconnected, err)
		return err
	}

	accounts, err := b.cfg.Adapter.Connect(ctx)
	if err != nil {
		err = fmt.Errorf("wallet refused connection: %w", err)
		b.status.set(StateDisconnected, err)
		return err
	}

	if len(accounts) == 0 {
		b.endSession()
		err := fmt.Errorf("%w: wallet returned no accounts", ErrNotConnected)
		b.status.set(StateDisconnected, err)
		return err
	}
	marker := b.beginSession()
	if err := b.hydrate(ctx, marker, accounts[0]); err != nil {
		b.endSession()
		b.status.set(StateDisconnected, err)
		return err
	}
	return nil
}

func (b *BrowserManaged) beginSession() uuid.UUID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = true
	b.marker = uuid.New()
	return b.marker
}

// endSession invalidates pending hydrations and clears the account
func (b *BrowserManaged) endSession() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = false
	b.marker = uuid.New()
	b.caip = ""
	b.account = nil
}

// nextMarker supersedes earlier hydrations. ok is false outside a session.
func (b *BrowserManaged) nextMarker() (marker uuid.UUID, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.active {
		return uuid.UUID{}, false
	}
	b.marker = uuid.New()
	return b.marker, true
}

// onAccountsChanged starts a hydration for the newest account. Only the
// hydration holding the latest marker may commit.
func (b *BrowserManaged) onAccountsChanged(accounts []string) {
	marker, ok := b.nextMarker()
	if !ok {
		b.logger.Sugar().Debugw("Ignoring account change outside a session", "connector", b.cfg.ID)
		return
	}
	if len(accounts) == 0 {
		b.clear(marker)
		b.status.set(StateDisconnected, nil)
		return
	}

	b.hydrations.Add(1)
	go func() {
		defer b.hydrations.Done()
		if err := b.hydrate(context.Background(), marker, accounts[0]); err != nil {
			b.logger.Sugar().Warnw("Failed to load changed account", "connector", b.cfg.ID, "account", accounts[0], "error", err)
		}
	}()
}

// hydrate looks caip up in the wallet and commits it if marker is still
// current and the session has not ended
func (b *BrowserManaged) hydrate(ctx context.Context, marker uuid.UUID, caip string) error {
	op, err := extension.NewOperation(extension.OpGetAccount, caip, nil)
	if err != nil {
		return err
	}
	res, err := b.cfg.Adapter.ExecuteOperation(ctx, op)
	if err != nil {
		return err
	}
	var info extension.AccountInfo
	if err := res.Decode(extension.OpGetAccount, &info); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.active || b.marker != marker {
		b.mu.Unlock()
		b.logger.Sugar().Debugw("Dropping stale account update", "connector", b.cfg.ID, "account", caip)
		return nil
	}
	b.caip = caip
	b.account = pxe.NewAccount(info.Address)
	b.mu.Unlock()

	b.status.set(StateConnected, nil)
	return nil
}

func (b *BrowserManaged) clear(marker uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.marker == marker {
		b.caip = ""
		b.account = nil
	}
}

// Disconnect ends the wallet session
func (b *BrowserManaged) Disconnect(ctx context.Context) error {
	return b.DisconnectWith(ctx, nil)
}

// DisconnectWith runs cleanup before the wallet session and local state are
// cleared. Cleanup errors are logged and do not stop the disconnect.
func (b *BrowserManaged) DisconnectWith(ctx context.Context, cleanup func(ctx context.Context) error) error {
	if cleanup != nil {
		if err := cleanup(ctx); err != nil {
			b.logger.Sugar().Warnw("Disconnect cleanup failed", "connector", b.cfg.ID, "error", err)
		}
	}

	b.endSession()
	b.status.set(StateDisconnected, nil)

	if err := b.cfg.Adapter.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to end wallet session: %w", err)
	}
	return nil
}

// Close stops listening for account changes and waits for running hydrations
func (b *BrowserManaged) Close() {
	b.startMu.Lock()
	if b.removeFn != nil {
		b.removeFn()
		b.removeFn = nil
	}
	b.initialized = false
	b.startMu.Unlock()

	b.hydrations.Wait()
}

func (b *BrowserManaged) SendTransaction(ctx context.Context, req extension.TxRequest) (*extension.TxResult, error) {
	op, err := extension.NewOperation(extension.OpSendTransaction, "", req)
	if err != nil {
		return nil, err
	}
	res, err := b.ExecuteOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	var out extension.TxResult
	if err := res.Decode(extension.OpSendTransaction, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecuteOperation runs op on the connected account. An empty op.Account is
// filled in with it.
func (b *BrowserManaged) ExecuteOperation(ctx context.Context, op extension.Operation) (*extension.Result, error) {
	caip := b.CaipAccount()
	if caip == "" {
		return nil, ErrNotConnected
	}
	if op.Account == "" {
		op.Account = caip
	}
	return b.cfg.Adapter.ExecuteOperation(ctx, op)
}
