// Package extension talks to wallets that own their accounts outright. Every
// account action goes through one tagged operation channel.
package extension

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/walletbridge/internal/pxe"
)

// OperationKind tags an operation
type OperationKind string

const (
	OpSendTransaction  OperationKind = "send_transaction"
	OpSimulateViews    OperationKind = "simulate_views"
	OpGetTxReceipt     OperationKind = "get_tx_receipt"
	OpGetAccount       OperationKind = "get_account"
	OpRegisterContract OperationKind = "register_contract"
)

// Operation is one request on the channel. Account is the CAIP-10 account
// the operation acts for.
type Operation struct {
	Kind    OperationKind   `json:"kind"`
	Account string          `json:"account,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewOperation encodes params into an operation
func NewOperation(kind OperationKind, account string, params any) (Operation, error) {
	op := Operation{Kind: kind, Account: account}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Operation{}, fmt.Errorf("failed to encode %s params: %w", kind, err)
		}
		op.Params = raw
	}
	return op, nil
}

// ResultStatus is the outcome of an operation
type ResultStatus string

const (
	StatusOK      ResultStatus = "ok"
	StatusFailed  ResultStatus = "failed"
	StatusSkipped ResultStatus = "skipped"
)

// Result is what the wallet returns for an operation
type Result struct {
	Status ResultStatus    `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

var ErrOperationSkipped = errors.New("operation skipped by wallet")

// OperationError is a failed operation reported by the wallet
type OperationError struct {
	Kind    OperationKind
	Message string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Kind, e.Message)
}

// Decode turns r into an error or, when ok, unmarshals the payload into v.
// v may be nil when the payload is not needed.
func (r *Result) Decode(kind OperationKind, v any) error {
	switch r.Status {
	case StatusOK:
		if v == nil || len(r.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(r.Result, v); err != nil {
			return fmt.Errorf("invalid %s result: %w", kind, err)
		}
		return nil
	case StatusSkipped:
		return fmt.Errorf("%w: %s", ErrOperationSkipped, kind)
	case StatusFailed:
		return &OperationError{Kind: kind, Message: r.Error}
	default:
		return fmt.Errorf("unknown %s result status %q", kind, r.Status)
	}
}

// TxRequest is a transaction for an extension-managed account
type TxRequest struct {
	Calls []pxe.FunctionCall    `json:"calls"`
	Fee   *pxe.FeePaymentMethod `json:"fee,omitempty"`
}

// TxResult is the wallet's answer to send_transaction
type TxResult struct {
	TxHash common.Hash  `json:"tx_hash"`
	Status pxe.TxStatus `json:"status"`
}

// AccountInfo is the wallet's answer to get_account
type AccountInfo struct {
	Address pxe.Address `json:"address"`
	Alias   string      `json:"alias,omitempty"`
}
