package signerbridge

import (
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yolodolo42/walletbridge/internal/pxe"
)

const (
	signatureLength = crypto.SignatureLength // r (32) || s (32) || v (1)
	witnessLength   = 64                     // r || s, one field element per byte
)

var ErrInvalidSignature = errors.New("invalid signature")

// AccountLinkMessage is the message the external signer signs to derive the
// linked account. Changing it changes every derived account.
func AccountLinkMessage(address common.Address) string {
	return "Sign to allow creation and inspection of your account linked to " + address.Hex()
}

// RecoverPublicKey recovers the signer's uncompressed public key from an
// EIP-191 personal signature over message. v may be 0/1 or 27/28.
func RecoverPublicKey(message []byte, signature []byte) (pxe.PublicKey, error) {
	sig, err := normalize(signature)
	if err != nil {
		return pxe.PublicKey{}, err
	}

	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return pxe.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// 0x04 || X || Y
	raw := crypto.FromECDSAPub(pub)
	var key pxe.PublicKey
	copy(key.X[:], raw[1:33])
	copy(key.Y[:], raw[33:65])
	return key, nil
}

// DeriveSecretKey hashes the raw signature bytes into the account secret key
func DeriveSecretKey(signature []byte) [32]byte {
	return crypto.Keccak256Hash(signature)
}

// DeriveSalt left-pads the external address to 32 bytes. It needs no signature.
func DeriveSalt(address common.Address) [32]byte {
	var salt [32]byte
	copy(salt[:], common.LeftPadBytes(address.Bytes(), 32))
	return salt
}

// EncodeWitness turns a 65-byte signature into the 64 field elements the
// account contract verifies: one element per byte of r, then of s. v is dropped.
func EncodeWitness(signature []byte) ([]fr.Element, error) {
	if len(signature) != signatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, signatureLength, len(signature))
	}

	fields := make([]fr.Element, witnessLength)
	for i := 0; i < witnessLength; i++ {
		fields[i].SetUint64(uint64(signature[i]))
	}
	return fields, nil
}

func normalize(signature []byte) ([]byte, error) {
	if len(signature) != signatureLength {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidSignature, signatureLength, len(signature))
	}
	sig := make([]byte, signatureLength)
	copy(sig, signature)

	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return nil, fmt.Errorf("%w: recovery id %d", ErrInvalidSignature, signature[crypto.RecoveryIDOffset])
	}
	sig[crypto.RecoveryIDOffset] = v
	return sig, nil
}
