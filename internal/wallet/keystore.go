package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountLocked   = errors.New("account is locked")
	ErrInvalidKey      = errors.New("invalid private key")
)

// KeystoreSigner implements KeyHolder over a decrypted secp256k1 key
type KeystoreSigner struct {
	// mu prevents signing from racing with Lock, which zeros the key
	mu      sync.RWMutex
	address common.Address
	key     *ecdsa.PrivateKey // nil when locked
}

var _ KeyHolder = (*KeystoreSigner)(nil)

// KeystoreManager stores embedded account keys in go-ethereum's encrypted
// keystore format under <dataDir>/keystore.
type KeystoreManager struct {
	ks      *keystore.KeyStore
	dataDir string
}

// NewKeystoreManager opens (creating if needed) the keystore in dataDir
func NewKeystoreManager(dataDir string) (*KeystoreManager, error) {
	return newKeystoreManager(dataDir, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewLightKeystoreManager uses the light scrypt parameters. Only for tests and
// throwaway sandbox keys.
func NewLightKeystoreManager(dataDir string) (*KeystoreManager, error) {
	return newKeystoreManager(dataDir, keystore.LightScryptN, keystore.LightScryptP)
}

func newKeystoreManager(dataDir string, scryptN, scryptP int) (*KeystoreManager, error) {
	keystoreDir := filepath.Join(dataDir, "keystore")
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	return &KeystoreManager{
		ks:      keystore.NewKeyStore(keystoreDir, scryptN, scryptP),
		dataDir: dataDir,
	}, nil
}

// DataDir returns the directory the manager was opened in
func (km *KeystoreManager) DataDir() string {
	return km.dataDir
}

// CreateAccount generates a fresh key encrypted with password
func (km *KeystoreManager) CreateAccount(password string) (accounts.Account, error) {
	return km.ks.NewAccount(password)
}

// ImportKey imports a hex private key, with or without 0x prefix
func (km *KeystoreManager) ImportKey(privateKeyHex string, password string) (accounts.Account, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return km.ks.ImportECDSA(privateKey, password)
}

// ListAccounts returns all accounts in the keystore
func (km *KeystoreManager) ListAccounts() []accounts.Account {
	return km.ks.Accounts()
}

// HasAccount reports whether the keystore holds a key for address
func (km *KeystoreManager) HasAccount(address common.Address) bool {
	return km.ks.HasAddress(address)
}

// DeleteAccount removes the key file for address. The password must decrypt it.
func (km *KeystoreManager) DeleteAccount(address common.Address, password string) error {
	account, err := km.find(address)
	if err != nil {
		return err
	}
	if err := km.ks.Delete(account, password); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}

// GetSigner decrypts the key for address and returns an unlocked signer
func (km *KeystoreManager) GetSigner(address common.Address, password string) (*KeystoreSigner, error) {
	account, err := km.find(address)
	if err != nil {
		return nil, err
	}

	keyJSON, err := os.ReadFile(account.URL.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	key, err := keystore.DecryptKey(keyJSON, password)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}

	return &KeystoreSigner{address: account.Address, key: key.PrivateKey}, nil
}

func (km *KeystoreManager) find(address common.Address) (accounts.Account, error) {
	account, err := km.ks.Find(accounts.Account{Address: address})
	if err != nil {
		return accounts.Account{}, ErrAccountNotFound
	}
	return account, nil
}

// NewPrivateKeySigner wraps an in-memory key without touching the keystore
func NewPrivateKeySigner(key *ecdsa.PrivateKey) *KeystoreSigner {
	return &KeystoreSigner{address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// Address returns the address of the signer
func (ks *KeystoreSigner) Address() common.Address {
	return ks.address
}

// SignMessage signs message using EIP-191 personal sign
func (ks *KeystoreSigner) SignMessage(message []byte) ([]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}

	sig, err := crypto.Sign(accounts.TextHash(message), ks.key)
	if err != nil {
		return nil, err
	}

	// crypto.Sign yields v in {0,1}; wallets and ecrecover use {27,28}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// PublicKey returns the signer's public key
func (ks *KeystoreSigner) PublicKey() (*ecdsa.PublicKey, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return nil, ErrAccountLocked
	}
	pub := ks.key.PublicKey
	return &pub, nil
}

// SecretKey returns keccak256 of the private key bytes
func (ks *KeystoreSigner) SecretKey() ([32]byte, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.key == nil {
		return [32]byte{}, ErrAccountLocked
	}
	return crypto.Keccak256Hash(crypto.FromECDSA(ks.key)), nil
}

// Lock zeros the private key. Safe to call multiple times; afterwards every
// signing call returns ErrAccountLocked.
func (ks *KeystoreSigner) Lock() {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.key != nil {
		ks.key.D.SetInt64(0)
		ks.key = nil
	}
}
