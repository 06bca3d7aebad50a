package pxe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrNotReady is returned when an accessor needs an instance that has not
	// been created yet. Callers must create the instance first.
	ErrNotReady = errors.New("execution service not ready")
	// ErrUnknownAccount is returned for addresses never registered with the wallet
	ErrUnknownAccount = errors.New("account not registered")
	// ErrNoSponsor is returned when no sponsored fee contract is configured or deployed
	ErrNoSponsor = errors.New("sponsored fee payment unavailable")
)

// Service is the public call surface of a private execution service (PXE).
// Proof generation, note handling and syncing all happen behind it.
type Service interface {
	// NodeInfo returns information about the node the service is synced with
	NodeInfo(ctx context.Context) (*NodeInfo, error)

	// RegisterAccount makes the service track an account derived from keys.
	// Registering the same keys twice is a no-op and returns the same address.
	RegisterAccount(ctx context.Context, keys AccountKeys) (Address, error)

	// RegisterContract makes a contract instance known to the service
	RegisterContract(ctx context.Context, instance *ContractInstance) error

	// GetContractInstance looks up a contract. Returns nil if unknown.
	GetContractInstance(ctx context.Context, address Address) (*ContractInstance, error)

	// IsAccountDeployed reports whether the account contract is on chain
	IsAccountDeployed(ctx context.Context, address Address) (bool, error)

	// TxRequestHash returns the message hash the origin account must authorize
	TxRequestHash(ctx context.Context, req *TxRequest) (common.Hash, error)

	// SimulateTx executes a request without proving it
	SimulateTx(ctx context.Context, req *TxRequest) (*SimulationResult, error)

	// ProveTx produces a proven transaction for an authorized request
	ProveTx(ctx context.Context, req *TxRequest) (*ProvenTx, error)

	// SendTx submits a proven transaction to the node
	SendTx(ctx context.Context, tx *ProvenTx) (common.Hash, error)

	// GetTxReceipt returns the current receipt of a sent transaction
	GetTxReceipt(ctx context.Context, txHash common.Hash) (*TxReceipt, error)

	// Close releases the connection to the service
	Close()
}

// Factory constructs a Service for a node URL. The returned service may not
// be ready yet; see WaitForReady.
type Factory func(ctx context.Context, nodeURL string) (Service, error)

// WaitForReady polls NodeInfo until it succeeds, at most attempts times
func WaitForReady(ctx context.Context, svc Service, attempts int, interval time.Duration) (*NodeInfo, error) {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		info, err := svc.NodeInfo(ctx)
		if err == nil {
			return info, nil
		}
		lastErr = err

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrNotReady, lastErr)
}
