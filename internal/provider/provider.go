package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Standard methods used by the bridge
const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodChainID         = "eth_chainId"
	MethodPersonalSign    = "personal_sign"
)

// Standard events emitted by providers
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventDisconnect      = "disconnect"
)

// Listener receives the JSON payload of a provider event
type Listener func(data json.RawMessage)

// Provider is an EIP-1193 style wallet provider, typically injected by a
// signing extension and found through discovery.
type Provider interface {
	// Request performs a JSON-RPC style call and returns the raw result
	Request(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// On registers listener for event. The returned func removes it.
	On(event string, listener Listener) (remove func())
}

// RPCError is a provider error carrying an EIP-1193 error code.
// Errors with equal codes match under errors.Is.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

func (e *RPCError) Is(target error) bool {
	t, ok := target.(*RPCError)
	return ok && t.Code == e.Code
}

var (
	ErrUserRejected      = &RPCError{Code: 4001, Message: "user rejected the request"}
	ErrUnauthorized      = &RPCError{Code: 4100, Message: "unauthorized"}
	ErrUnsupportedMethod = &RPCError{Code: 4200, Message: "unsupported method"}
	ErrDisconnected      = &RPCError{Code: 4900, Message: "disconnected"}
)

// Accounts returns the accounts the provider already exposes without prompting
func Accounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return addressList(ctx, p, MethodAccounts)
}

// RequestAccounts asks the provider for account access, which may prompt the user
func RequestAccounts(ctx context.Context, p Provider) ([]common.Address, error) {
	return addressList(ctx, p, MethodRequestAccounts)
}

func addressList(ctx context.Context, p Provider, method string) ([]common.Address, error) {
	raw, err := p.Request(ctx, method)
	if err != nil {
		return nil, err
	}
	var addrs []common.Address
	if err := json.Unmarshal(raw, &addrs); err != nil {
		return nil, fmt.Errorf("invalid %s result: %w", method, err)
	}
	return addrs, nil
}

// ChainID returns the provider's current chain id
func ChainID(ctx context.Context, p Provider) (*big.Int, error) {
	raw, err := p.Request(ctx, MethodChainID)
	if err != nil {
		return nil, err
	}
	var id hexutil.Big
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, fmt.Errorf("invalid %s result: %w", MethodChainID, err)
	}
	return id.ToInt(), nil
}

// PersonalSign requests an EIP-191 personal signature over data from addr.
// The provider applies the "\x19Ethereum Signed Message" prefix.
func PersonalSign(ctx context.Context, p Provider, data []byte, addr common.Address) ([]byte, error) {
	raw, err := p.Request(ctx, MethodPersonalSign, hexutil.Encode(data), addr.Hex())
	if err != nil {
		return nil, err
	}
	var sig hexutil.Bytes
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("invalid %s result: %w", MethodPersonalSign, err)
	}
	return sig, nil
}
