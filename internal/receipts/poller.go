// Package receipts waits for sent transactions and keeps a local ledger of
// their receipts.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/walletbridge/internal/pxe"
)

const (
	DefaultAttempts = 60
	DefaultInterval = 2 * time.Second
)

var (
	ErrTimeout  = errors.New("transaction not mined in time")
	ErrTxFailed = errors.New("transaction failed")
)

// Fetcher returns the current receipt of a transaction. pxe.Service satisfies it.
type Fetcher interface {
	GetTxReceipt(ctx context.Context, txHash common.Hash) (*pxe.TxReceipt, error)
}

// Poller waits for receipts with a bounded number of attempts at a fixed interval
type Poller struct {
	Attempts int
	Interval time.Duration
}

// NewPoller fills zero fields with the defaults
func NewPoller(attempts int, interval time.Duration) Poller {
	if attempts < 1 {
		attempts = DefaultAttempts
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return Poller{Attempts: attempts, Interval: interval}
}

// Wait polls until the transaction is final. A reverted or dropped
// transaction returns its receipt together with ErrTxFailed.
func (p Poller) Wait(ctx context.Context, f Fetcher, txHash common.Hash) (*pxe.TxReceipt, error) {
	p = NewPoller(p.Attempts, p.Interval)

	var lastErr error
	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.Interval):
			}
		}

		receipt, err := f.GetTxReceipt(ctx, txHash)
		if err != nil {
			// Node may not know the tx yet; keep polling
			lastErr = err
			continue
		}
		if !receipt.Mined() {
			continue
		}
		if receipt.Status != pxe.TxStatusSuccess {
			return receipt, fmt.Errorf("%w: %s %s", ErrTxFailed, receipt.Status, receipt.Error)
		}
		return receipt, nil
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrTimeout, p.Attempts, lastErr)
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrTimeout, p.Attempts)
}
