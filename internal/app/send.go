package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/extension"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
)

// SendResult is the outcome of Send
type SendResult struct {
	ConnectorID string
	TxHash      common.Hash
	Receipt     *pxe.TxReceipt
}

// Send submits calls from the active connector's account and waits for the
// receipt. App-managed accounts are proven and sent locally, deploying an
// external signer's account first if needed; extension-managed accounts
// hand the transaction to the wallet.
func (a *App) Send(ctx context.Context, calls []pxe.FunctionCall) (*SendResult, error) {
	c := a.Registry.ActiveConnector()
	if c == nil {
		return nil, connector.ErrNotConnected
	}

	var (
		res *SendResult
		err error
	)
	if connector.IsAppManaged(c) {
		res, err = a.sendAppManaged(ctx, connector.MustAppManaged(c), calls)
	} else {
		res, err = a.sendExtensionManaged(ctx, connector.MustExtensionManaged(c), calls)
	}
	if res != nil && res.Receipt != nil {
		account := c.Account()
		addr := ""
		if account != nil {
			addr = account.Address.Hex()
		}
		if lerr := a.Ledger.RecordReceipt(a.NetworkKey, res.ConnectorID, addr, receipts.KindTransaction, res.Receipt); lerr != nil {
			a.Logger.Sugar().Warnw("Failed to record receipt", "tx_hash", res.TxHash.Hex(), "error", lerr)
		}
	}
	return res, err
}

type deployable interface {
	EnsureDeployed(ctx context.Context) (bool, error)
}

func (a *App) sendAppManaged(ctx context.Context, c connector.AppManaged, calls []pxe.FunctionCall) (*SendResult, error) {
	id := c.Info().ID
	if d, ok := c.(deployable); ok {
		if _, err := d.EnsureDeployed(ctx); err != nil {
			return nil, err
		}
	}

	aw, err := c.AccountWallet()
	if err != nil {
		return nil, err
	}
	svc, err := c.PXE()
	if err != nil {
		return nil, err
	}
	fee, err := c.SponsoredFeePaymentMethod(ctx)
	if err != nil {
		return nil, err
	}

	account := c.Account()
	if account == nil {
		return nil, connector.ErrNotConnected
	}
	txHash, err := aw.SendTx(ctx, &pxe.TxRequest{Origin: account.Address, Calls: calls, Fee: &fee})
	if err != nil {
		return nil, err
	}
	a.Logger.Sugar().Infow("Transaction sent", "connector", id, "tx_hash", txHash.Hex())

	receipt, err := a.poller.Wait(ctx, svc, txHash)
	return &SendResult{ConnectorID: id, TxHash: txHash, Receipt: receipt}, err
}

func (a *App) sendExtensionManaged(ctx context.Context, c connector.ExtensionManaged, calls []pxe.FunctionCall) (*SendResult, error) {
	id := c.Info().ID
	sent, err := c.SendTransaction(ctx, extension.TxRequest{Calls: calls})
	if err != nil {
		return nil, err
	}
	a.Logger.Sugar().Infow("Transaction sent", "connector", id, "tx_hash", sent.TxHash.Hex())

	res := &SendResult{ConnectorID: id, TxHash: sent.TxHash}
	fetcher := &extensionReceipts{c: c}

	// Wallets that cannot report receipts only give the status they sent with
	if _, err := fetcher.GetTxReceipt(ctx, sent.TxHash); errors.Is(err, extension.ErrOperationSkipped) {
		res.Receipt = &pxe.TxReceipt{TxHash: sent.TxHash, Status: sent.Status}
		return res, nil
	}

	res.Receipt, err = a.poller.Wait(ctx, fetcher, sent.TxHash)
	return res, err
}

// extensionReceipts reads receipts through the get_tx_receipt operation
type extensionReceipts struct {
	c connector.ExtensionManaged
}

func (f *extensionReceipts) GetTxReceipt(ctx context.Context, txHash common.Hash) (*pxe.TxReceipt, error) {
	op, err := extension.NewOperation(extension.OpGetTxReceipt, "", map[string]common.Hash{"tx_hash": txHash})
	if err != nil {
		return nil, err
	}
	res, err := f.c.ExecuteOperation(ctx, op)
	if err != nil {
		return nil, err
	}
	var receipt pxe.TxReceipt
	if err := res.Decode(extension.OpGetTxReceipt, &receipt); err != nil {
		return nil, fmt.Errorf("receipt for %s: %w", txHash.Hex(), err)
	}
	return &receipt, nil
}
