package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/yolodolo42/walletbridge/internal/logging"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/receipts"
	"github.com/yolodolo42/walletbridge/internal/signerbridge"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

const EmbeddedID = "embedded"

// PasswordFunc supplies the keystore password. creating is true when a new
// key is about to be generated.
type PasswordFunc func(ctx context.Context, creating bool) (string, error)

// ReceiptRecorder keeps a record of mined receipts. *receipts.Store satisfies it.
type ReceiptRecorder interface {
	RecordReceipt(network, connectorID, account string, kind receipts.Kind, receipt *pxe.TxReceipt) error
}

type EmbeddedConfig struct {
	Label       string
	Target      Target
	Keystore    *wallet.KeystoreManager
	Credentials *wallet.CredentialStore
	Password    PasswordFunc
	Cache       *pxe.InstanceCache
	Poller      receipts.Poller
	Ledger      ReceiptRecorder // optional
	Logger      *zap.Logger
}

// Embedded holds a locally generated key in the encrypted keystore and runs
// its account in the shared execution service.
type Embedded struct {
	cfg    EmbeddedConfig
	logger *zap.Logger
	status statusTracker

	// connectMu serializes Connect, Disconnect and Forget
	connectMu sync.Mutex

	mu      sync.RWMutex
	account *pxe.Account
	signer  *wallet.KeystoreSigner
}

var _ AppManaged = (*Embedded)(nil)

func NewEmbedded(cfg EmbeddedConfig) *Embedded {
	if cfg.Label == "" {
		cfg.Label = "Embedded wallet"
	}
	return &Embedded{cfg: cfg, logger: logging.OrNop(cfg.Logger)}
}

func (e *Embedded) Info() Info {
	return Info{ID: EmbeddedID, Label: e.cfg.Label, Type: TypeEmbedded}
}

func (e *Embedded) Status() Status {
	state, lastErr := e.status.get()
	return Status{IsInstalled: true, State: state, Error: lastErr}
}

func (e *Embedded) Account() *pxe.Account {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.account
}

// HasCredentials reports whether a stored key exists for the target network
func (e *Embedded) HasCredentials() bool {
	cred, ok := e.cfg.Credentials.Get(e.cfg.Target.Network)
	return ok && e.cfg.Keystore.HasAccount(cred.Address)
}

// Credential returns the stored account metadata for the target network
func (e *Embedded) Credential() (wallet.Credential, bool) {
	return e.cfg.Credentials.Get(e.cfg.Target.Network)
}

// Connect unlocks (or creates) the local key, registers its account and
// deploys it the first time.
func (e *Embedded) Connect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	if e.Account() != nil {
		return nil
	}

	e.status.set(StateConnecting, nil)
	account, signer, err := e.connect(ctx)
	if err != nil {
		e.status.set(StateDisconnected, err)
		return err
	}

	e.mu.Lock()
	e.account = account
	e.signer = signer
	e.mu.Unlock()

	e.status.set(StateConnected, nil)
	e.logger.Sugar().Infow("Embedded account connected",
		"network", e.cfg.Target.Network,
		"address", account.Address.Hex(),
	)
	return nil
}

func (e *Embedded) connect(ctx context.Context) (*pxe.Account, *wallet.KeystoreSigner, error) {
	inst, err := e.cfg.Cache.GetOrCreateInstance(ctx, e.cfg.Target.NodeURL, e.cfg.Target.Network)
	if err != nil {
		return nil, nil, err
	}

	signer, cred, err := e.unlock(ctx)
	if err != nil {
		return nil, nil, err
	}

	fail := func(err error) (*pxe.Account, *wallet.KeystoreSigner, error) {
		signer.Lock()
		return nil, nil, err
	}

	keys, err := embeddedKeys(signer)
	if err != nil {
		return fail(err)
	}
	account, err := inst.Wallet.Register(ctx, keys, &localWitness{signer: signer})
	if err != nil {
		return fail(err)
	}

	if !cred.Deployed {
		deployed, err := inst.Wallet.IsDeployed(ctx, account.Address)
		if err != nil {
			return fail(fmt.Errorf("failed to check deployment: %w", err))
		}
		if !deployed {
			e.status.set(StateDeploying, nil)
			if err := e.deployer().deploy(ctx, inst, account); err != nil {
				return fail(err)
			}
		}
		cred.Deployed = true
		cred.PXEAddress = account.Address.Hex()
		if err := e.cfg.Credentials.Put(cred); err != nil {
			return fail(err)
		}
	}

	if _, err := inst.Wallet.Activate(account.Address); err != nil {
		return fail(err)
	}
	return account, signer, nil
}

// unlock opens the stored key for the network, creating one if none exists
func (e *Embedded) unlock(ctx context.Context) (*wallet.KeystoreSigner, wallet.Credential, error) {
	network := e.cfg.Target.Network

	cred, ok := e.cfg.Credentials.Get(network)
	if ok && e.cfg.Keystore.HasAccount(cred.Address) {
		password, err := e.cfg.Password(ctx, false)
		if err != nil {
			return nil, cred, err
		}
		signer, err := e.cfg.Keystore.GetSigner(cred.Address, password)
		return signer, cred, err
	}

	password, err := e.cfg.Password(ctx, true)
	if err != nil {
		return nil, cred, err
	}
	acct, err := e.cfg.Keystore.CreateAccount(password)
	if err != nil {
		return nil, cred, fmt.Errorf("failed to create key: %w", err)
	}
	cred = wallet.Credential{
		Address:   acct.Address,
		Network:   network,
		CreatedAt: time.Now().Unix(),
	}
	if err := e.cfg.Credentials.Put(cred); err != nil {
		return nil, cred, err
	}
	e.logger.Sugar().Infow("Created embedded key", "network", network, "address", acct.Address.Hex())

	signer, err := e.cfg.Keystore.GetSigner(acct.Address, password)
	return signer, cred, err
}

func (e *Embedded) deployer() deployer {
	return deployer{
		network:     e.cfg.Target.Network,
		connectorID: EmbeddedID,
		poller:      e.cfg.Poller,
		ledger:      e.cfg.Ledger,
		logger:      e.logger,
	}
}

// Disconnect drops the in-memory account. Stored credentials are kept.
func (e *Embedded) Disconnect(ctx context.Context) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()
	e.disconnect()
	return nil
}

func (e *Embedded) disconnect() {
	e.mu.Lock()
	account, signer := e.account, e.signer
	e.account, e.signer = nil, nil
	e.mu.Unlock()

	if signer != nil {
		signer.Lock()
	}
	if account != nil {
		if inst := e.instance(); inst != nil {
			inst.Wallet.Deactivate(account.Address)
		}
	}
	e.status.set(StateDisconnected, nil)
}

// Forget disconnects and deletes the stored key and account metadata
func (e *Embedded) Forget(ctx context.Context, password string) error {
	e.connectMu.Lock()
	defer e.connectMu.Unlock()

	network := e.cfg.Target.Network
	cred, ok := e.cfg.Credentials.Get(network)
	if !ok {
		return ErrNoCredentials
	}

	e.disconnect()

	if e.cfg.Keystore.HasAccount(cred.Address) {
		if err := e.cfg.Keystore.DeleteAccount(cred.Address, password); err != nil {
			return err
		}
	}
	if err := e.cfg.Credentials.Remove(network); err != nil && !errors.Is(err, wallet.ErrAccountNotFound) {
		return err
	}
	e.logger.Sugar().Infow("Forgot embedded account", "network", network, "address", cred.Address.Hex())
	return nil
}

func (e *Embedded) instance() *pxe.Instance {
	return e.cfg.Cache.GetExistingInstance(e.cfg.Target.NodeURL, e.cfg.Target.Network)
}

func (e *Embedded) PXE() (pxe.Service, error) {
	inst := e.instance()
	if inst == nil {
		return nil, ErrPXENotReady
	}
	return inst.Service, nil
}

func (e *Embedded) AccountWallet() (*pxe.AccountWallet, error) {
	inst := e.instance()
	if inst == nil {
		return nil, ErrPXENotReady
	}
	return inst.Wallet, nil
}

func (e *Embedded) SponsoredFeePaymentMethod(ctx context.Context) (pxe.FeePaymentMethod, error) {
	inst := e.instance()
	if inst == nil {
		return pxe.FeePaymentMethod{}, ErrPXENotReady
	}
	return inst.SponsoredFees.Method(ctx)
}

// embeddedKeys derives the account keys of a local key. The secret and the
// signing key come from the private key; the salt from the address.
func embeddedKeys(signer wallet.KeyHolder) (pxe.AccountKeys, error) {
	pub, err := signer.PublicKey()
	if err != nil {
		return pxe.AccountKeys{}, err
	}
	secret, err := signer.SecretKey()
	if err != nil {
		return pxe.AccountKeys{}, err
	}

	var signing pxe.PublicKey
	raw := crypto.FromECDSAPub(pub)[1:]
	copy(signing.X[:], raw[:32])
	copy(signing.Y[:], raw[32:])

	return pxe.AccountKeys{
		SecretKey:  secret,
		Salt:       signerbridge.DeriveSalt(signer.Address()),
		SigningKey: signing,
	}, nil
}

// localWitness authorizes requests with a keystore key, using the same
// witness encoding as external signers.
type localWitness struct {
	signer wallet.Signer
}

func (w *localWitness) CreateAuthWit(ctx context.Context, messageHash common.Hash) (*pxe.AuthWitness, error) {
	sig, err := w.signer.SignMessage(messageHash.Bytes())
	if err != nil {
		return nil, err
	}
	fields, err := signerbridge.EncodeWitness(sig)
	if err != nil {
		return nil, err
	}
	return &pxe.AuthWitness{RequestHash: messageHash, Fields: fields}, nil
}
