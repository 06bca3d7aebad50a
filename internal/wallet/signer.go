package wallet

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
)

// Signer produces EIP-191 personal signatures for one address
type Signer interface {
	// Address returns the Ethereum address of the signer
	Address() common.Address

	// SignMessage signs message with the "\x19Ethereum Signed Message" prefix.
	// The returned signature is r || s || v with v in {27, 28}.
	SignMessage(message []byte) ([]byte, error)
}

// KeyHolder is a Signer that also exposes the material an embedded account
// is derived from.
type KeyHolder interface {
	Signer

	// PublicKey returns the signer's secp256k1 public key
	PublicKey() (*ecdsa.PublicKey, error)

	// SecretKey returns a 32-byte secret derived from the private key
	SecretKey() ([32]byte, error)
}

// Credential is the persisted metadata of an embedded account. The private
// key itself lives in the encrypted keystore under Address.
type Credential struct {
	Address    common.Address `json:"address"`
	PXEAddress string         `json:"pxe_address,omitempty"`
	Network    string         `json:"network"`
	Deployed   bool           `json:"deployed"`
	CreatedAt  int64          `json:"created_at"`
}
