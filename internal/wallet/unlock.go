package wallet

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// UnlockingSigner is a Signer for a keystore key that is decrypted the first
// time it is asked to sign.
type UnlockingSigner struct {
	km       *KeystoreManager
	address  common.Address
	password func() (string, error)

	mu     sync.Mutex
	signer *KeystoreSigner
}

var _ Signer = (*UnlockingSigner)(nil)

func NewUnlockingSigner(km *KeystoreManager, address common.Address, password func() (string, error)) *UnlockingSigner {
	return &UnlockingSigner{km: km, address: address, password: password}
}

func (s *UnlockingSigner) Address() common.Address {
	return s.address
}

func (s *UnlockingSigner) SignMessage(message []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signer == nil {
		if !s.km.HasAccount(s.address) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, s.address.Hex())
		}
		password, err := s.password()
		if err != nil {
			return nil, err
		}
		signer, err := s.km.GetSigner(s.address, password)
		if err != nil {
			return nil, err
		}
		s.signer = signer
	}
	return s.signer.SignMessage(message)
}

// Lock drops the decrypted key. The next signature asks for the password again.
func (s *UnlockingSigner) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.signer != nil {
		s.signer.Lock()
		s.signer = nil
	}
}
