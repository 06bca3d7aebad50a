package connector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
)

// deployer sends an account's deployment with the sponsored fee method and
// waits for it to be mined.
type deployer struct {
	network     string
	connectorID string
	poller      receipts.Poller
	ledger      ReceiptRecorder
	logger      *zap.Logger
}

func (d deployer) deploy(ctx context.Context, inst *pxe.Instance, account *pxe.Account) error {
	fee, err := inst.SponsoredFees.Method(ctx)
	if err != nil {
		return fmt.Errorf("cannot pay for deployment: %w", err)
	}

	d.logger.Sugar().Infow("Deploying account", "connector", d.connectorID, "address", account.Address.Hex())
	txHash, err := inst.Wallet.Deploy(ctx, account, fee)
	if err != nil {
		return fmt.Errorf("failed to deploy account: %w", err)
	}

	receipt, err := d.poller.Wait(ctx, inst.Service, txHash)
	if receipt != nil && d.ledger != nil {
		if lerr := d.ledger.RecordReceipt(d.network, d.connectorID, account.Address.Hex(), receipts.KindDeployment, receipt); lerr != nil {
			d.logger.Sugar().Warnw("Failed to record deployment receipt", "tx_hash", txHash.Hex(), "error", lerr)
		}
	}
	if err != nil {
		return fmt.Errorf("account deployment %s: %w", txHash.Hex(), err)
	}

	d.logger.Sugar().Infow("Account deployed", "address", account.Address.Hex(), "tx_hash", txHash.Hex())
	return nil
}

// ensureDeployed deploys account unless it is already on chain. It reports
// whether a deployment was sent.
func (d deployer) ensureDeployed(ctx context.Context, inst *pxe.Instance, account *pxe.Account) (bool, error) {
	deployed, err := inst.Wallet.IsDeployed(ctx, account.Address)
	if err != nil {
		return false, fmt.Errorf("failed to check deployment: %w", err)
	}
	if deployed {
		return false, nil
	}
	return true, d.deploy(ctx, inst, account)
}
