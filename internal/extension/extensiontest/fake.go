// Package extensiontest provides an in-memory extension wallet for tests.
package extensiontest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yolodolo42/walletbridge/internal/extension"
	"github.com/yolodolo42/walletbridge/internal/pxe"
)

// Adapter is a fake extension.Adapter
type Adapter struct {
	mu sync.Mutex

	installed bool
	connected bool
	accounts  []string
	listeners map[uint64]func([]string)
	nextID    uint64
	ops       []extension.Operation
	initCalls int

	// GetAccount overrides get_account handling when set
	GetAccount func(ctx context.Context, caip string) (*extension.AccountInfo, error)
}

var _ extension.Adapter = (*Adapter)(nil)

// New returns an installed wallet exposing accounts once connected
func New(accounts ...string) *Adapter {
	return &Adapter{
		installed: true,
		accounts:  accounts,
		listeners: make(map[uint64]func([]string)),
	}
}

// SetInstalled toggles whether Init finds the wallet
func (a *Adapter) SetInstalled(installed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.installed = installed
}

func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initCalls++
	if !a.installed {
		return extension.ErrNotInstalled
	}
	return nil
}

func (a *Adapter) Connect(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.installed {
		return nil, extension.ErrNotInstalled
	}
	a.connected = true
	return append([]string(nil), a.accounts...), nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connected = false
	return nil
}

func (a *Adapter) Accounts(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, nil
	}
	return append([]string(nil), a.accounts...), nil
}

func (a *Adapter) ExecuteOperation(ctx context.Context, op extension.Operation) (*extension.Result, error) {
	a.mu.Lock()
	a.ops = append(a.ops, op)
	hook := a.GetAccount
	a.mu.Unlock()

	switch op.Kind {
	case extension.OpGetAccount:
		var info *extension.AccountInfo
		if hook != nil {
			var err error
			if info, err = hook(ctx, op.Account); err != nil {
				return &extension.Result{Status: extension.StatusFailed, Error: err.Error()}, nil
			}
		} else {
			caip, err := extension.ParseCaipAccount(op.Account)
			if err != nil {
				return &extension.Result{Status: extension.StatusFailed, Error: err.Error()}, nil
			}
			info = &extension.AccountInfo{Address: caip.Address}
		}
		return okResult(info)

	case extension.OpSendTransaction:
		return okResult(extension.TxResult{
			TxHash: crypto.Keccak256Hash([]byte(op.Account), op.Params),
			Status: pxe.TxStatusSuccess,
		})

	default:
		return &extension.Result{Status: extension.StatusSkipped}, nil
	}
}

func okResult(v any) (*extension.Result, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &extension.Result{Status: extension.StatusOK, Result: raw}, nil
}

func (a *Adapter) OnAccountsChanged(fn func([]string)) func() {
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

// ChangeAccounts replaces the accounts and notifies listeners synchronously
func (a *Adapter) ChangeAccounts(accounts ...string) {
	a.mu.Lock()
	a.accounts = accounts
	listeners := make([]func([]string), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(append([]string(nil), accounts...))
	}
}

// Operations returns every operation executed so far
func (a *Adapter) Operations() []extension.Operation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]extension.Operation(nil), a.ops...)
}

// InitCalls returns how many times Init ran
func (a *Adapter) InitCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initCalls
}

// Connected reports whether a session is open
func (a *Adapter) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
