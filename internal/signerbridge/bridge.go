// Package signerbridge derives a private account from an EVM signing
// extension. One personal signature over a fixed message yields the account's
// public key and secret key; every later transaction is authorized with a
// personal signature over the transaction request hash.
package signerbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/logging"
	"github.com/yolodolo42/walletbridge/internal/provider"
	"github.com/yolodolo42/walletbridge/internal/pxe"
)

var (
	ErrSigningRejected = errors.New("signature request rejected")
	ErrNoAccounts      = errors.New("external signer exposed no accounts")
	ErrAddressMismatch = errors.New("signature does not belong to the external address")
)

// RawSigner is the external signer as seen by the bridge
type RawSigner interface {
	// Address returns the external account, prompting for access if needed
	Address(ctx context.Context) (common.Address, error)

	// SignPersonal returns an EIP-191 personal signature by address over message
	SignPersonal(ctx context.Context, address common.Address, message []byte) ([]byte, error)
}

// KeyMaterial is everything needed to register the linked account
type KeyMaterial struct {
	PublicKey pxe.PublicKey
	SecretKey [32]byte
	Salt      [32]byte
}

// AccountKeys converts the material to the execution service's form
func (k KeyMaterial) AccountKeys() pxe.AccountKeys {
	return pxe.AccountKeys{SecretKey: k.SecretKey, Salt: k.Salt, SigningKey: k.PublicKey}
}

// Bridge caches the external address and derived key material of one signer.
// Caches are never shared between bridges; a new bridge always signs afresh.
type Bridge struct {
	signer RawSigner
	logger *zap.Logger

	// mu is held across signer round-trips so concurrent callers share one prompt
	mu      sync.Mutex
	address *common.Address
	keys    *KeyMaterial
}

var _ pxe.AuthWitnessProvider = (*Bridge)(nil)

// New creates a bridge over signer
func New(signer RawSigner, logger *zap.Logger) *Bridge {
	return &Bridge{signer: signer, logger: logging.OrNop(logger)}
}

// ExternalAddress returns the signer's address, requesting it once
func (b *Bridge) ExternalAddress(ctx context.Context) (common.Address, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.externalAddress(ctx)
}

func (b *Bridge) externalAddress(ctx context.Context) (common.Address, error) {
	if b.address != nil {
		return *b.address, nil
	}
	addr, err := b.signer.Address(ctx)
	if err != nil {
		return common.Address{}, err
	}
	b.address = &addr
	return addr, nil
}

// Salt derives the account salt. Only the address is needed, not a signature.
func (b *Bridge) Salt(ctx context.Context) ([32]byte, error) {
	addr, err := b.ExternalAddress(ctx)
	if err != nil {
		return [32]byte{}, err
	}
	return DeriveSalt(addr), nil
}

// KeyMaterial signs the account link message on first use and caches the
// derived keys until Disconnect.
func (b *Bridge) KeyMaterial(ctx context.Context) (KeyMaterial, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.keys != nil {
		return *b.keys, nil
	}

	addr, err := b.externalAddress(ctx)
	if err != nil {
		return KeyMaterial{}, err
	}

	message := []byte(AccountLinkMessage(addr))
	sig, err := b.signer.SignPersonal(ctx, addr, message)
	if err != nil {
		return KeyMaterial{}, err
	}

	pub, err := RecoverPublicKey(message, sig)
	if err != nil {
		return KeyMaterial{}, err
	}
	if recovered := publicKeyAddress(pub); recovered != addr {
		return KeyMaterial{}, fmt.Errorf("%w: recovered %s, expected %s", ErrAddressMismatch, recovered.Hex(), addr.Hex())
	}

	b.keys = &KeyMaterial{
		PublicKey: pub,
		SecretKey: DeriveSecretKey(sig),
		Salt:      DeriveSalt(addr),
	}
	b.logger.Sugar().Debugw("derived linked account keys", "external_address", addr.Hex())
	return *b.keys, nil
}

// PublicKey returns the recovered public key, signing only if not cached
func (b *Bridge) PublicKey(ctx context.Context) (pxe.PublicKey, error) {
	keys, err := b.KeyMaterial(ctx)
	return keys.PublicKey, err
}

// SecretKey returns the derived secret key, signing only if not cached
func (b *Bridge) SecretKey(ctx context.Context) ([32]byte, error) {
	keys, err := b.KeyMaterial(ctx)
	return keys.SecretKey, err
}

// CreateAuthWit asks the signer to authorize messageHash. The signer signs
// the 32 raw hash bytes, not their hex form.
func (b *Bridge) CreateAuthWit(ctx context.Context, messageHash common.Hash) (*pxe.AuthWitness, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	addr, err := b.externalAddress(ctx)
	if err != nil {
		return nil, err
	}

	sig, err := b.signer.SignPersonal(ctx, addr, messageHash.Bytes())
	if err != nil {
		return nil, err
	}
	fields, err := EncodeWitness(sig)
	if err != nil {
		return nil, err
	}
	return &pxe.AuthWitness{RequestHash: messageHash, Fields: fields}, nil
}

// Disconnect forgets the cached address and key material
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.address = nil
	b.keys = nil
}

func publicKeyAddress(pub pxe.PublicKey) common.Address {
	return common.BytesToAddress(crypto.Keccak256(pub.X[:], pub.Y[:])[12:])
}

// ProviderSigner adapts an extension provider to RawSigner
type ProviderSigner struct {
	provider provider.Provider
}

var _ RawSigner = (*ProviderSigner)(nil)

func NewProviderSigner(p provider.Provider) *ProviderSigner {
	return &ProviderSigner{provider: p}
}

func (s *ProviderSigner) Address(ctx context.Context) (common.Address, error) {
	addrs, err := provider.RequestAccounts(ctx, s.provider)
	if err != nil {
		return common.Address{}, mapProviderError(err)
	}
	if len(addrs) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return addrs[0], nil
}

func (s *ProviderSigner) SignPersonal(ctx context.Context, address common.Address, message []byte) ([]byte, error) {
	sig, err := provider.PersonalSign(ctx, s.provider, message, address)
	if err != nil {
		return nil, mapProviderError(err)
	}
	return sig, nil
}

func mapProviderError(err error) error {
	if errors.Is(err, provider.ErrUserRejected) {
		return fmt.Errorf("%w: %v", ErrSigningRejected, err)
	}
	return err
}
