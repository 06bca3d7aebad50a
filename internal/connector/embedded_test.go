package connector_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/pxe/pxetest"
	"github.com/yolodolo42/walletbridge/internal/receipts"
	"github.com/yolodolo42/walletbridge/internal/testutil"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

// watchingLedger records receipts and the connector state at the time
type watchingLedger struct {
	*receipts.Store

	mu     sync.Mutex
	conn   connector.Connector
	states []connector.State
}

func (l *watchingLedger) RecordReceipt(network, connectorID, account string, kind receipts.Kind, receipt *pxe.TxReceipt) error {
	l.mu.Lock()
	l.states = append(l.states, l.conn.Status().State)
	l.mu.Unlock()
	return l.Store.RecordReceipt(network, connectorID, account, kind, receipt)
}

type embeddedFixture struct {
	dir       string
	svc       *pxetest.Service
	cache     *pxe.InstanceCache
	keystore  *wallet.KeystoreManager
	creds     *wallet.CredentialStore
	ledger    *watchingLedger
	conn      *connector.Embedded
	passwords []bool
}

func newEmbedded(t *testing.T) *embeddedFixture {
	t.Helper()
	dir := testutil.TempDir(t)

	ks, err := wallet.NewLightKeystoreManager(filepath.Join(dir, "keystore"))
	require.NoError(t, err)
	creds, err := wallet.NewCredentialStore(dir)
	require.NoError(t, err)
	store, err := receipts.OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc := pxetest.New()
	svc.PendingPolls = 2
	f := &embeddedFixture{
		dir:      dir,
		svc:      svc,
		cache:    newCache(t, svc),
		keystore: ks,
		creds:    creds,
		ledger:   &watchingLedger{Store: store},
	}
	f.conn = f.build()
	return f
}

func (f *embeddedFixture) build() *connector.Embedded {
	conn := connector.NewEmbedded(connector.EmbeddedConfig{
		Target:      connector.Target{Network: "sandbox", NodeURL: "http://node"},
		Keystore:    f.keystore,
		Credentials: f.creds,
		Password: func(ctx context.Context, creating bool) (string, error) {
			f.passwords = append(f.passwords, creating)
			return "correct horse", nil
		},
		Cache:  f.cache,
		Poller: fastPoller,
		Ledger: f.ledger,
	})
	f.ledger.conn = conn
	return conn
}

func TestEmbedded_FirstConnectCreatesAndDeploys(t *testing.T) {
	f := newEmbedded(t)
	ctx := context.Background()

	assert.False(t, f.conn.HasCredentials())
	assert.Equal(t, connector.Status{IsInstalled: true, State: connector.StateDisconnected}, f.conn.Status())

	require.NoError(t, f.conn.Connect(ctx))
	assert.Equal(t, []bool{true}, f.passwords)
	assert.Equal(t, connector.StateConnected, f.conn.Status().State)

	account := f.conn.Account()
	require.NotNil(t, account)
	assert.True(t, f.svc.Registered(account.Address))

	// deployment was sent and its receipt recorded while deploying
	sent := f.svc.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "constructor", sent[0].Calls[0].Function)
	assert.Equal(t, []connector.State{connector.StateDeploying}, f.ledger.states)

	list, err := f.ledger.List("sandbox", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, receipts.KindDeployment, list[0].Kind)
	assert.Equal(t, connector.EmbeddedID, list[0].ConnectorID)

	cred, ok := f.conn.Credential()
	require.True(t, ok)
	assert.True(t, cred.Deployed)
	assert.Equal(t, account.Address.Hex(), cred.PXEAddress)
	assert.True(t, f.conn.HasCredentials())
}

func TestEmbedded_ReconnectReusesKey(t *testing.T) {
	f := newEmbedded(t)
	ctx := context.Background()

	require.NoError(t, f.conn.Connect(ctx))
	first := f.conn.Account().Address

	require.NoError(t, f.conn.Disconnect(ctx))
	assert.Nil(t, f.conn.Account())
	assert.Equal(t, connector.StateDisconnected, f.conn.Status().State)
	assert.True(t, f.conn.HasCredentials())

	// a fresh connector over the same storage, as after a restart
	again := f.build()
	require.NoError(t, again.Connect(ctx))
	assert.Equal(t, first, again.Account().Address)
	assert.Equal(t, []bool{true, false}, f.passwords)
	assert.Len(t, f.svc.Sent(), 1, "no second deployment")
	assert.Len(t, f.keystore.ListAccounts(), 1)
}

func TestEmbedded_AuthorizesTransactions(t *testing.T) {
	f := newEmbedded(t)
	ctx := context.Background()
	require.NoError(t, f.conn.Connect(ctx))

	aw, err := f.conn.AccountWallet()
	require.NoError(t, err)
	fee, err := f.conn.SponsoredFeePaymentMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, sponsor, fee.Contract)

	account := f.conn.Account()
	_, err = aw.SendTx(ctx, &pxe.TxRequest{
		Origin: account.Address,
		Calls:  []pxe.FunctionCall{{To: pxe.Address{31: 7}, Function: "transfer", Args: []string{"0x01"}}},
		Fee:    &fee,
	})
	require.NoError(t, err)

	sent := f.svc.Sent()
	require.Len(t, sent, 2)
	assert.Len(t, sent[1].AuthWitnesses[0].Fields, 64)
}

func TestEmbedded_DeploymentFailure(t *testing.T) {
	f := newEmbedded(t)
	f.cache = pxe.NewInstanceCache(pxetest.Factory(f.svc), pxe.CacheConfig{}, nil)
	f.conn = f.build()

	err := f.conn.Connect(context.Background())
	require.ErrorIs(t, err, pxe.ErrNoSponsor)

	st := f.conn.Status()
	assert.Equal(t, connector.StateDisconnected, st.State)
	assert.NotEmpty(t, st.Error)
	assert.Nil(t, f.conn.Account())

	// the key survives so the next connect retries deployment with it
	cred, ok := f.conn.Credential()
	require.True(t, ok)
	assert.False(t, cred.Deployed)
}

func TestEmbedded_PasswordError(t *testing.T) {
	f := newEmbedded(t)
	cancelled := errors.New("prompt cancelled")
	conn := connector.NewEmbedded(connector.EmbeddedConfig{
		Target:      connector.Target{Network: "sandbox", NodeURL: "http://node"},
		Keystore:    f.keystore,
		Credentials: f.creds,
		Password: func(context.Context, bool) (string, error) {
			return "", cancelled
		},
		Cache: f.cache,
	})

	assert.ErrorIs(t, conn.Connect(context.Background()), cancelled)
	assert.False(t, conn.HasCredentials())
}

func TestEmbedded_Forget(t *testing.T) {
	f := newEmbedded(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.conn.Forget(ctx, "correct horse"), connector.ErrNoCredentials)

	require.NoError(t, f.conn.Connect(ctx))
	require.NoError(t, f.conn.Forget(ctx, "correct horse"))

	assert.Nil(t, f.conn.Account())
	assert.False(t, f.conn.HasCredentials())
	assert.Empty(t, f.keystore.ListAccounts())
	_, ok := f.conn.Credential()
	assert.False(t, ok)
}

func TestEmbedded_PXENotReady(t *testing.T) {
	f := newEmbedded(t)

	_, err := f.conn.PXE()
	assert.ErrorIs(t, err, connector.ErrPXENotReady)
	assert.ErrorIs(t, err, pxe.ErrNotReady)
	_, err = f.conn.AccountWallet()
	assert.ErrorIs(t, err, connector.ErrPXENotReady)
}
