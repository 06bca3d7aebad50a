package extension

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/logging"
)

const (
	dialTimeout  = 10 * time.Second
	pollInterval = 2 * time.Second
)

// WalletInfo is returned by wallet_getInfo
type WalletInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	RDNS    string `json:"rdns"`
}

// RPCAdapter reaches an extension wallet through its JSON-RPC bridge. Account
// changes arrive over a wallet_subscribe subscription, or by polling when the
// transport has no notifications.
type RPCAdapter struct {
	dial   func(ctx context.Context) (*rpc.Client, error)
	logger *zap.Logger

	mu        sync.Mutex
	client    *rpc.Client
	info      *WalletInfo
	listeners map[uint64]func([]string)
	nextID    uint64
	stopWatch context.CancelFunc
}

var _ Adapter = (*RPCAdapter)(nil)

// NewRPCAdapter creates an adapter for the wallet bridge at url. An empty url
// means no wallet is configured and Init reports ErrNotInstalled.
func NewRPCAdapter(url string, logger *zap.Logger) *RPCAdapter {
	dial := func(ctx context.Context) (*rpc.Client, error) {
		if url == "" {
			return nil, errors.New("no wallet url configured")
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		return rpc.DialContext(dialCtx, url)
	}
	return newRPCAdapter(dial, logger)
}

// NewInProcAdapter connects to a wallet served by server in this process
func NewInProcAdapter(server *rpc.Server, logger *zap.Logger) *RPCAdapter {
	return newRPCAdapter(func(context.Context) (*rpc.Client, error) {
		return rpc.DialInProc(server), nil
	}, logger)
}

func newRPCAdapter(dial func(ctx context.Context) (*rpc.Client, error), logger *zap.Logger) *RPCAdapter {
	return &RPCAdapter{
		dial:      dial,
		logger:    logging.OrNop(logger),
		listeners: make(map[uint64]func([]string)),
	}
}

// Init dials the wallet and reads its info. It is safe to call again after a failure.
func (a *RPCAdapter) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return nil
	}

	client, err := a.dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}

	var info WalletInfo
	if err := client.CallContext(ctx, &info, "wallet_getInfo"); err != nil {
		client.Close()
		return fmt.Errorf("%w: %v", ErrNotInstalled, err)
	}

	a.client = client
	a.info = &info
	a.startWatchLocked()
	return nil
}

// Info returns what the wallet reported at Init, or nil before a successful Init
func (a *RPCAdapter) Info() *WalletInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.info
}

func (a *RPCAdapter) rpcClient() (*rpc.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client == nil {
		return nil, ErrNotInstalled
	}
	return a.client, nil
}

func (a *RPCAdapter) Connect(ctx context.Context) ([]string, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := client.CallContext(ctx, &accounts, "wallet_connect"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (a *RPCAdapter) Disconnect(ctx context.Context) error {
	client, err := a.rpcClient()
	if err != nil {
		return err
	}
	return client.CallContext(ctx, nil, "wallet_disconnect")
}

func (a *RPCAdapter) Accounts(ctx context.Context) ([]string, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := client.CallContext(ctx, &accounts, "wallet_accounts"); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (a *RPCAdapter) ExecuteOperation(ctx context.Context, op Operation) (*Result, error) {
	client, err := a.rpcClient()
	if err != nil {
		return nil, err
	}
	var result Result
	if err := client.CallContext(ctx, &result, "wallet_executeOperation", op); err != nil {
		return nil, fmt.Errorf("%s: %w", op.Kind, err)
	}
	return &result, nil
}

func (a *RPCAdapter) OnAccountsChanged(fn func(accounts []string)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// Close stops watching and closes the connection
func (a *RPCAdapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopWatch != nil {
		a.stopWatch()
		a.stopWatch = nil
	}
	if a.client != nil {
		a.client.Close()
		a.client = nil
	}
}

func (a *RPCAdapter) startWatchLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	client := a.client

	ch := make(chan []string, 4)
	sub, err := client.Subscribe(ctx, "wallet", ch, "accountsChanged")
	if errors.Is(err, rpc.ErrNotificationsUnsupported) {
		go a.poll(ctx, client)
		return
	}
	if err != nil {
		a.logger.Sugar().Warnw("account change subscription failed", "error", err)
		go a.poll(ctx, client)
		return
	}

	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case accounts := <-ch:
				a.notify(accounts)
			case err := <-sub.Err():
				if err != nil {
					a.logger.Sugar().Warnw("account change subscription ended", "error", err)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *RPCAdapter) poll(ctx context.Context, client *rpc.Client) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var last []string
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var accounts []string
		if err := client.CallContext(ctx, &accounts, "wallet_accounts"); err != nil {
			a.logger.Sugar().Debugw("account poll failed", "error", err)
			continue
		}
		if !first && !slices.Equal(accounts, last) {
			a.notify(accounts)
		}
		last = accounts
		first = false
	}
}

func (a *RPCAdapter) notify(accounts []string) {
	a.mu.Lock()
	listeners := make([]func([]string), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(accounts)
	}
}
