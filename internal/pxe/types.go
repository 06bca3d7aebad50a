package pxe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// AddressLength is the size of a rollup account or contract address.
// Addresses are single field elements, unlike 20-byte EVM addresses.
const AddressLength = 32

var ErrInvalidAddress = errors.New("invalid address")

// Address identifies an account or contract on the privacy rollup
type Address [AddressLength]byte

// AddressFromHex parses a 0x-prefixed hex string of at most 32 bytes.
// Shorter inputs are left-padded.
func AddressFromHex(s string) (Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) > AddressLength {
		return Address{}, fmt.Errorf("%w: %d bytes", ErrInvalidAddress, len(b))
	}
	var a Address
	copy(a[AddressLength-len(b):], b)
	return a, nil
}

func (a Address) Hex() string    { return hexutil.Encode(a[:]) }
func (a Address) String() string { return a.Hex() }
func (a Address) IsZero() bool   { return a == Address{} }

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := AddressFromHex(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// PublicKey is an uncompressed secp256k1 public key split into coordinates
type PublicKey struct {
	X [32]byte
	Y [32]byte
}

func (k PublicKey) IsZero() bool { return k == PublicKey{} }

// AccountKeys is the key material an account is registered with
type AccountKeys struct {
	SecretKey  [32]byte
	Salt       [32]byte
	SigningKey PublicKey
}

// NodeInfo is returned by the execution service once it is synced with a node
type NodeInfo struct {
	NodeVersion   string `json:"nodeVersion"`
	L1ChainID     uint64 `json:"l1ChainId"`
	RollupVersion uint64 `json:"rollupVersion"`
}

// ContractInstance describes a deployed (or deployable) contract
type ContractInstance struct {
	Address            Address     `json:"address"`
	ClassID            common.Hash `json:"contractClassId"`
	Deployer           Address     `json:"deployer"`
	Salt               common.Hash `json:"salt"`
	InitializationHash common.Hash `json:"initializationHash"`
}

// FunctionCall is one call inside a transaction request
type FunctionCall struct {
	To       Address  `json:"to"`
	Function string   `json:"function"`
	Args     []string `json:"args,omitempty"`
}

// FeePaymentMethod selects who pays for a transaction
type FeePaymentMethod struct {
	Kind     string  `json:"kind"`
	Contract Address `json:"contract"`
}

const FeeKindSponsored = "sponsored"

// AuthWitness authorizes the execution of a request hash on behalf of an account.
// Fields is the signature encoded the way the account contract verifies it.
type AuthWitness struct {
	RequestHash common.Hash
	Fields      []fr.Element
}

type authWitnessJSON struct {
	RequestHash common.Hash   `json:"requestHash"`
	Fields      []common.Hash `json:"witness"`
}

func (w AuthWitness) MarshalJSON() ([]byte, error) {
	out := authWitnessJSON{
		RequestHash: w.RequestHash,
		Fields:      make([]common.Hash, len(w.Fields)),
	}
	for i := range w.Fields {
		out.Fields[i] = w.Fields[i].Bytes()
	}
	return json.Marshal(out)
}

func (w *AuthWitness) UnmarshalJSON(data []byte) error {
	var in authWitnessJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	w.RequestHash = in.RequestHash
	w.Fields = make([]fr.Element, len(in.Fields))
	for i := range in.Fields {
		w.Fields[i].SetBytes(in.Fields[i][:])
	}
	return nil
}

// TxRequest is an unproven transaction originating from an account
type TxRequest struct {
	Origin        Address           `json:"origin"`
	Calls         []FunctionCall    `json:"calls"`
	Fee           *FeePaymentMethod `json:"fee,omitempty"`
	AuthWitnesses []AuthWitness     `json:"authWitnesses,omitempty"`
}

// ProvenTx is an opaque proven transaction ready to be sent
type ProvenTx struct {
	TxHash common.Hash     `json:"txHash"`
	Data   json.RawMessage `json:"data"`
}

// SimulationResult holds the outcome of a simulated request
type SimulationResult struct {
	ReturnValues []string `json:"returnValues"`
	GasUsed      uint64   `json:"gasUsed"`
}

// TxStatus is the lifecycle state of a sent transaction
type TxStatus string

const (
	TxStatusPending  TxStatus = "pending"
	TxStatusSuccess  TxStatus = "success"
	TxStatusReverted TxStatus = "reverted"
	TxStatusDropped  TxStatus = "dropped"
)

// TxReceipt reports the status of a sent transaction
type TxReceipt struct {
	TxHash      common.Hash `json:"txHash"`
	Status      TxStatus    `json:"status"`
	BlockNumber uint64      `json:"blockNumber,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Mined reports whether the receipt is final (included or rejected)
func (r *TxReceipt) Mined() bool {
	return r != nil && r.Status != TxStatusPending && r.Status != ""
}
