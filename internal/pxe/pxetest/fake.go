// Package pxetest provides an in-memory execution service for tests.
package pxetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/yolodolo42/walletbridge/internal/pxe"
)

// Service is a fake pxe.Service. The zero value is not usable; use New.
type Service struct {
	mu sync.Mutex

	// NotReadyCalls makes the first N NodeInfo calls fail
	NotReadyCalls int
	// PendingPolls is how many receipt polls report pending before success
	PendingPolls int

	nodeInfoCalls int
	accounts      map[pxe.Address]pxe.AccountKeys
	contracts     map[pxe.Address]*pxe.ContractInstance
	deployed      map[pxe.Address]bool
	sent          []*pxe.TxRequest
	proven        map[common.Hash]*pxe.TxRequest
	polls         map[common.Hash]int
	closed        bool
}

var _ pxe.Service = (*Service)(nil)

func New() *Service {
	return &Service{
		accounts:  make(map[pxe.Address]pxe.AccountKeys),
		contracts: make(map[pxe.Address]*pxe.ContractInstance),
		deployed:  make(map[pxe.Address]bool),
		proven:    make(map[common.Hash]*pxe.TxRequest),
		polls:     make(map[common.Hash]int),
	}
}

// AddressFor is the address the fake assigns to keys
func AddressFor(keys pxe.AccountKeys) pxe.Address {
	return pxe.Address(crypto.Keccak256Hash(keys.SecretKey[:], keys.Salt[:]))
}

func (s *Service) NodeInfo(ctx context.Context) (*pxe.NodeInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodeInfoCalls++
	if s.nodeInfoCalls <= s.NotReadyCalls {
		return nil, errors.New("node syncing")
	}
	return &pxe.NodeInfo{NodeVersion: "fake", L1ChainID: 31337, RollupVersion: 1}, nil
}

func (s *Service) RegisterAccount(ctx context.Context, keys pxe.AccountKeys) (pxe.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	addr := AddressFor(keys)
	s.accounts[addr] = keys
	return addr, nil
}

func (s *Service) RegisterContract(ctx context.Context, instance *pxe.ContractInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[instance.Address] = instance
	return nil
}

// AddContract makes a contract instance discoverable through GetContractInstance
func (s *Service) AddContract(instance *pxe.ContractInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[instance.Address] = instance
}

func (s *Service) GetContractInstance(ctx context.Context, address pxe.Address) (*pxe.ContractInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[address], nil
}

func (s *Service) IsAccountDeployed(ctx context.Context, address pxe.Address) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deployed[address], nil
}

// MarkDeployed records addr as deployed
func (s *Service) MarkDeployed(addr pxe.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deployed[addr] = true
}

func (s *Service) TxRequestHash(ctx context.Context, req *pxe.TxRequest) (common.Hash, error) {
	unsigned := *req
	unsigned.AuthWitnesses = nil
	b, err := json.Marshal(unsigned)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

func (s *Service) SimulateTx(ctx context.Context, req *pxe.TxRequest) (*pxe.SimulationResult, error) {
	return &pxe.SimulationResult{GasUsed: 21000}, nil
}

func (s *Service) ProveTx(ctx context.Context, req *pxe.TxRequest) (*pxe.ProvenTx, error) {
	if len(req.AuthWitnesses) == 0 {
		return nil, errors.New("missing auth witness")
	}
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hash := crypto.Keccak256Hash(b)

	s.mu.Lock()
	s.proven[hash] = req
	s.mu.Unlock()

	return &pxe.ProvenTx{TxHash: hash, Data: b}, nil
}

func (s *Service) SendTx(ctx context.Context, tx *pxe.ProvenTx) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.proven[tx.TxHash]
	if !ok {
		return common.Hash{}, errors.New("unknown proven tx")
	}
	s.sent = append(s.sent, req)
	for _, call := range req.Calls {
		if call.Function == "constructor" && call.To == req.Origin {
			s.deployed[req.Origin] = true
		}
	}
	return tx.TxHash, nil
}

func (s *Service) GetTxReceipt(ctx context.Context, txHash common.Hash) (*pxe.TxReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proven[txHash]; !ok {
		return &pxe.TxReceipt{TxHash: txHash, Status: pxe.TxStatusDropped, Error: "unknown tx"}, nil
	}
	s.polls[txHash]++
	if s.polls[txHash] <= s.PendingPolls {
		return &pxe.TxReceipt{TxHash: txHash, Status: pxe.TxStatusPending}, nil
	}
	return &pxe.TxReceipt{TxHash: txHash, Status: pxe.TxStatusSuccess, BlockNumber: 1}, nil
}

func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Sent returns the requests that were sent, in order
func (s *Service) Sent() []*pxe.TxRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*pxe.TxRequest(nil), s.sent...)
}

// Registered reports whether addr was registered
func (s *Service) Registered(addr pxe.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.accounts[addr]
	return ok
}

// Closed reports whether Close was called
func (s *Service) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Factory returns a pxe.Factory that always hands out svc
func Factory(svc *Service) pxe.Factory {
	return func(ctx context.Context, nodeURL string) (pxe.Service, error) {
		return svc, nil
	}
}
