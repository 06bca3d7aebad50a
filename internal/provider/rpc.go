package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/logging"
)

// RPCProvider forwards provider requests to a signer reachable over JSON-RPC,
// such as a remote signing daemon or a wallet bridge process.
type RPCProvider struct {
	emitter

	client *rpc.Client
	logger *zap.Logger
}

var _ Provider = (*RPCProvider)(nil)

// DialRPC connects to a JSON-RPC signer at url
func DialRPC(ctx context.Context, url string, logger *zap.Logger) (*RPCProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial signer %s: %w", url, err)
	}
	return NewRPCProvider(client, logger), nil
}

// NewRPCProvider wraps an existing client
func NewRPCProvider(client *rpc.Client, logger *zap.Logger) *RPCProvider {
	return &RPCProvider{client: client, logger: logging.OrNop(logger)}
}

func (p *RPCProvider) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := p.client.CallContext(ctx, &raw, method, params...); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, &RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
		}
		return nil, err
	}
	return raw, nil
}

// WatchAccounts polls eth_accounts every interval and emits accountsChanged
// when the list differs from the previous poll. It returns when ctx is done.
func (p *RPCProvider) WatchAccounts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last []common.Address
	first := true
	for {
		addrs, err := Accounts(ctx, p)
		if err != nil {
			p.logger.Sugar().Debugw("account poll failed", "error", err)
		} else if first || !slices.Equal(addrs, last) {
			if !first {
				p.emit(EventAccountsChanged, addrs)
			}
			last = addrs
			first = false
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Close closes the underlying client and emits disconnect
func (p *RPCProvider) Close() {
	p.client.Close()
	p.emit(EventDisconnect, ErrDisconnected)
}
