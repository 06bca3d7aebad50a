package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

// ApproveFunc decides whether a prompting request is allowed. It stands in
// for the confirmation dialog an extension would show.
type ApproveFunc func(ctx context.Context, method string, params []any) bool

// AlwaysApprove approves every request
func AlwaysApprove(context.Context, string, []any) bool { return true }

// LocalProvider is a Provider backed by local keystore signers. Accounts are
// hidden until eth_requestAccounts is approved, mirroring extension permissions.
type LocalProvider struct {
	emitter

	mu        sync.RWMutex
	chainID   *big.Int
	signers   []wallet.Signer
	approve   ApproveFunc
	permitted bool
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider for signers on chainID. A nil approve
// rejects every prompting request.
func NewLocalProvider(chainID *big.Int, approve ApproveFunc, signers ...wallet.Signer) *LocalProvider {
	if approve == nil {
		approve = func(context.Context, string, []any) bool { return false }
	}
	return &LocalProvider{
		chainID: new(big.Int).Set(chainID),
		signers: signers,
		approve: approve,
	}
}

func (p *LocalProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	switch method {
	case MethodAccounts:
		p.mu.RLock()
		defer p.mu.RUnlock()
		if !p.permitted {
			return json.Marshal([]common.Address{})
		}
		return json.Marshal(p.addresses())

	case MethodRequestAccounts:
		return p.requestAccounts(ctx, params)

	case MethodChainID:
		p.mu.RLock()
		defer p.mu.RUnlock()
		return json.Marshal((*hexutil.Big)(p.chainID))

	case MethodPersonalSign:
		return p.personalSign(ctx, params)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
	}
}

func (p *LocalProvider) requestAccounts(ctx context.Context, params []any) (json.RawMessage, error) {
	p.mu.Lock()
	granted := false
	if !p.permitted {
		if !p.approve(ctx, MethodRequestAccounts, params) {
			p.mu.Unlock()
			return nil, ErrUserRejected
		}
		p.permitted = true
		granted = true
	}
	addrs := p.addresses()
	p.mu.Unlock()

	if granted {
		p.emit(EventAccountsChanged, addrs)
	}
	return json.Marshal(addrs)
}

func (p *LocalProvider) personalSign(ctx context.Context, params []any) (json.RawMessage, error) {
	if len(params) != 2 {
		return nil, fmt.Errorf("personal_sign expects 2 params, got %d", len(params))
	}
	dataHex, ok := params[0].(string)
	if !ok {
		return nil, fmt.Errorf("personal_sign data must be a hex string")
	}
	addrHex, ok := params[1].(string)
	if !ok || !common.IsHexAddress(addrHex) {
		return nil, fmt.Errorf("personal_sign address must be a hex address")
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid personal_sign data: %w", err)
	}

	p.mu.RLock()
	permitted := p.permitted
	signer := p.signerFor(common.HexToAddress(addrHex))
	p.mu.RUnlock()

	if !permitted || signer == nil {
		return nil, ErrUnauthorized
	}
	if !p.approve(ctx, MethodPersonalSign, params) {
		return nil, ErrUserRejected
	}

	sig, err := signer.SignMessage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return json.Marshal(hexutil.Bytes(sig))
}

// Revoke withdraws account permission, like a user disconnecting the site
// from inside the extension.
func (p *LocalProvider) Revoke() {
	p.mu.Lock()
	wasPermitted := p.permitted
	p.permitted = false
	p.mu.Unlock()

	if wasPermitted {
		p.emit(EventAccountsChanged, []common.Address{})
	}
}

// SwitchChain changes the reported chain id and emits chainChanged
func (p *LocalProvider) SwitchChain(chainID *big.Int) {
	p.mu.Lock()
	p.chainID = new(big.Int).Set(chainID)
	p.mu.Unlock()

	p.emit(EventChainChanged, (*hexutil.Big)(chainID))
}

func (p *LocalProvider) addresses() []common.Address {
	addrs := make([]common.Address, len(p.signers))
	for i, s := range p.signers {
		addrs[i] = s.Address()
	}
	return addrs
}

func (p *LocalProvider) signerFor(addr common.Address) wallet.Signer {
	for _, s := range p.signers {
		if s.Address() == addr {
			return s
		}
	}
	return nil
}
