package pxe

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// dialTimeout bounds connection setup; calls use the caller's context
const dialTimeout = 10 * time.Second

// RPCService talks to a PXE over JSON-RPC
type RPCService struct {
	client  *rpc.Client
	nodeURL string
}

var _ Service = (*RPCService)(nil)

// DialRPC connects to the PXE at nodeURL. It satisfies Factory.
func DialRPC(ctx context.Context, nodeURL string) (Service, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	client, err := rpc.DialContext(dialCtx, nodeURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", nodeURL, err)
	}

	return NewRPCService(client, nodeURL), nil
}

// NewRPCService wraps an existing rpc client
func NewRPCService(client *rpc.Client, nodeURL string) *RPCService {
	return &RPCService{client: client, nodeURL: nodeURL}
}

type registerAccountParams struct {
	SecretKey   common.Hash `json:"secretKey"`
	Salt        common.Hash `json:"salt"`
	SigningKeyX common.Hash `json:"signingKeyX"`
	SigningKeyY common.Hash `json:"signingKeyY"`
}

func (s *RPCService) NodeInfo(ctx context.Context) (*NodeInfo, error) {
	var info NodeInfo
	if err := s.client.CallContext(ctx, &info, "pxe_getNodeInfo"); err != nil {
		return nil, err
	}
	return &info, nil
}

func (s *RPCService) RegisterAccount(ctx context.Context, keys AccountKeys) (Address, error) {
	params := registerAccountParams{
		SecretKey:   keys.SecretKey,
		Salt:        keys.Salt,
		SigningKeyX: keys.SigningKey.X,
		SigningKeyY: keys.SigningKey.Y,
	}

	var addr Address
	if err := s.client.CallContext(ctx, &addr, "pxe_registerAccount", params); err != nil {
		return Address{}, err
	}
	return addr, nil
}

func (s *RPCService) RegisterContract(ctx context.Context, instance *ContractInstance) error {
	return s.client.CallContext(ctx, nil, "pxe_registerContract", instance)
}

func (s *RPCService) GetContractInstance(ctx context.Context, address Address) (*ContractInstance, error) {
	// A JSON null result leaves the pointer nil
	var instance *ContractInstance
	if err := s.client.CallContext(ctx, &instance, "pxe_getContractInstance", address); err != nil {
		return nil, err
	}
	return instance, nil
}

func (s *RPCService) IsAccountDeployed(ctx context.Context, address Address) (bool, error) {
	var deployed bool
	if err := s.client.CallContext(ctx, &deployed, "pxe_isAccountDeployed", address); err != nil {
		return false, err
	}
	return deployed, nil
}

func (s *RPCService) TxRequestHash(ctx context.Context, req *TxRequest) (common.Hash, error) {
	var hash common.Hash
	if err := s.client.CallContext(ctx, &hash, "pxe_getTxRequestHash", req); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (s *RPCService) SimulateTx(ctx context.Context, req *TxRequest) (*SimulationResult, error) {
	var res SimulationResult
	if err := s.client.CallContext(ctx, &res, "pxe_simulateTx", req); err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *RPCService) ProveTx(ctx context.Context, req *TxRequest) (*ProvenTx, error) {
	var tx ProvenTx
	if err := s.client.CallContext(ctx, &tx, "pxe_proveTx", req); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (s *RPCService) SendTx(ctx context.Context, tx *ProvenTx) (common.Hash, error) {
	var hash common.Hash
	if err := s.client.CallContext(ctx, &hash, "pxe_sendTx", tx); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (s *RPCService) GetTxReceipt(ctx context.Context, txHash common.Hash) (*TxReceipt, error) {
	var receipt TxReceipt
	if err := s.client.CallContext(ctx, &receipt, "pxe_getTxReceipt", txHash); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *RPCService) Close() {
	s.client.Close()
}
