package pxe

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AuthWitnessProvider authorizes request hashes on behalf of an account
type AuthWitnessProvider interface {
	CreateAuthWit(ctx context.Context, messageHash common.Hash) (*AuthWitness, error)
}

// Account is an account registered with an execution service
type Account struct {
	Address    Address
	SigningKey PublicKey

	witnesses AuthWitnessProvider
}

// NewAccount builds an account value that is not backed by a local
// witness provider, e.g. one whose signing lives in a wallet extension.
func NewAccount(address Address) *Account {
	return &Account{Address: address}
}

// CreateAuthWit asks the account's signer to authorize messageHash
func (a *Account) CreateAuthWit(ctx context.Context, messageHash common.Hash) (*AuthWitness, error) {
	if a.witnesses == nil {
		return nil, fmt.Errorf("account %s cannot sign locally", a.Address)
	}
	return a.witnesses.CreateAuthWit(ctx, messageHash)
}

// AccountWallet tracks the accounts registered with one Service and which
// of them is currently active.
type AccountWallet struct {
	mu       sync.RWMutex
	svc      Service
	accounts map[Address]*Account
	active   *Account
}

// NewAccountWallet creates an empty wallet on top of svc
func NewAccountWallet(svc Service) *AccountWallet {
	return &AccountWallet{
		svc:      svc,
		accounts: make(map[Address]*Account),
	}
}

// Register registers keys with the service and remembers the resulting
// account. witnesses signs transactions for it.
func (w *AccountWallet) Register(ctx context.Context, keys AccountKeys, witnesses AuthWitnessProvider) (*Account, error) {
	addr, err := w.svc.RegisterAccount(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("failed to register account: %w", err)
	}

	account := &Account{
		Address:    addr,
		SigningKey: keys.SigningKey,
		witnesses:  witnesses,
	}

	w.mu.Lock()
	w.accounts[addr] = account
	w.mu.Unlock()

	return account, nil
}

// Activate makes a registered account the active one
func (w *AccountWallet) Activate(addr Address) (*Account, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	account, ok := w.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	w.active = account
	return account, nil
}

// Deactivate clears the active account if it is addr
func (w *AccountWallet) Deactivate(addr Address) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil && w.active.Address == addr {
		w.active = nil
	}
}

// Active returns the active account, or nil
func (w *AccountWallet) Active() *Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// Accounts returns all registered accounts
func (w *AccountWallet) Accounts() []*Account {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*Account, 0, len(w.accounts))
	for _, a := range w.accounts {
		out = append(out, a)
	}
	return out
}

func (w *AccountWallet) account(addr Address) (*Account, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	account, ok := w.accounts[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, addr)
	}
	return account, nil
}

// IsDeployed reports whether addr's account contract is on chain
func (w *AccountWallet) IsDeployed(ctx context.Context, addr Address) (bool, error) {
	return w.svc.IsAccountDeployed(ctx, addr)
}

// Simulate runs req without proving or sending it
func (w *AccountWallet) Simulate(ctx context.Context, req *TxRequest) (*SimulationResult, error) {
	return w.svc.SimulateTx(ctx, req)
}

// SendTx authorizes req with its origin account, proves it and sends it
func (w *AccountWallet) SendTx(ctx context.Context, req *TxRequest) (common.Hash, error) {
	account, err := w.account(req.Origin)
	if err != nil {
		return common.Hash{}, err
	}

	hash, err := w.svc.TxRequestHash(ctx, req)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to compute request hash: %w", err)
	}

	witness, err := account.CreateAuthWit(ctx, hash)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to authorize request: %w", err)
	}

	authorized := *req
	authorized.AuthWitnesses = append(append([]AuthWitness{}, req.AuthWitnesses...), *witness)

	proven, err := w.svc.ProveTx(ctx, &authorized)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to prove transaction: %w", err)
	}

	txHash, err := w.svc.SendTx(ctx, proven)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return txHash, nil
}

// Deploy sends the deployment transaction for an account's contract.
// The constructor receives the signing key coordinates.
func (w *AccountWallet) Deploy(ctx context.Context, account *Account, fee FeePaymentMethod) (common.Hash, error) {
	req := &TxRequest{
		Origin: account.Address,
		Calls: []FunctionCall{{
			To:       account.Address,
			Function: "constructor",
			Args: []string{
				common.Hash(account.SigningKey.X).Hex(),
				common.Hash(account.SigningKey.Y).Hex(),
			},
		}},
		Fee: &fee,
	}
	return w.SendTx(ctx, req)
}
