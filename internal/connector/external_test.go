package connector_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/discovery"
	"github.com/yolodolo42/walletbridge/internal/provider"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/pxe/pxetest"
	"github.com/yolodolo42/walletbridge/internal/receipts"
	"github.com/yolodolo42/walletbridge/internal/signerbridge"
	"github.com/yolodolo42/walletbridge/internal/wallet"
)

// providerMap is a fixed set of discovered providers
type providerMap map[string]discovery.Announcement

func (m providerMap) Provider(rdns string) (discovery.Announcement, bool) {
	a, ok := m[rdns]
	return a, ok
}

var sponsor = pxe.Address{31: 0x99}

func newCache(t *testing.T, svc *pxetest.Service) *pxe.InstanceCache {
	t.Helper()
	svc.AddContract(&pxe.ContractInstance{Address: sponsor})
	cache := pxe.NewInstanceCache(pxetest.Factory(svc), pxe.CacheConfig{
		SponsoredFPC:  sponsor,
		ReadyInterval: time.Millisecond,
	}, nil)
	t.Cleanup(cache.Close)
	return cache
}

var fastPoller = receipts.Poller{Attempts: 5, Interval: time.Millisecond}

type externalFixture struct {
	signer   *wallet.KeystoreSigner
	provider *provider.LocalProvider
	svc      *pxetest.Service
	state    *connector.ExternalState
	conn     *connector.ExternalSigner
}

func newExternal(t *testing.T, rdns string, approve provider.ApproveFunc) *externalFixture {
	t.Helper()
	svc := pxetest.New()
	return newExternalOn(t, rdns, approve, newCache(t, svc), svc, connector.NewExternalState())
}

func newExternalOn(t *testing.T, rdns string, approve provider.ApproveFunc, cache *pxe.InstanceCache, svc *pxetest.Service, state *connector.ExternalState) *externalFixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := wallet.NewPrivateKeySigner(key)
	p := provider.NewLocalProvider(big.NewInt(31337), approve, signer)

	conn := connector.NewExternalSigner(connector.ExternalSignerConfig{
		RDNS:   rdns,
		Label:  "Test Signer",
		Target: connector.Target{Network: "sandbox", NodeURL: "http://node", L1ChainID: 31337},
		Discovery: providerMap{rdns: {
			Info:     discovery.Info{Name: "Test Signer", RDNS: rdns},
			Provider: p,
		}},
		Cache:  cache,
		State:  state,
		Poller: fastPoller,
	})
	return &externalFixture{signer: signer, provider: p, svc: svc, state: state, conn: conn}
}

func TestExternalSigner_Connect(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)
	ctx := context.Background()

	assert.Equal(t, "external:io.test.signer", f.conn.Info().ID)
	assert.Equal(t, connector.TypeExternalSigner, f.conn.Info().Type)
	assert.True(t, f.conn.Status().IsInstalled)
	assert.Nil(t, f.conn.Account())

	require.NoError(t, f.conn.Connect(ctx))
	assert.Equal(t, connector.StateConnected, f.conn.Status().State)

	// the account is the one derived from the link signature
	addr := f.signer.Address()
	sig, err := f.signer.SignMessage([]byte(signerbridge.AccountLinkMessage(addr)))
	require.NoError(t, err)
	want := pxetest.AddressFor(pxe.AccountKeys{
		SecretKey: signerbridge.DeriveSecretKey(sig),
		Salt:      signerbridge.DeriveSalt(addr),
	})

	account := f.conn.Account()
	require.NotNil(t, account)
	assert.Equal(t, want, account.Address)
	assert.True(t, f.svc.Registered(want))

	id, shared, ok := f.state.Connected()
	require.True(t, ok)
	assert.Equal(t, f.conn.Info().ID, id)
	assert.Equal(t, addr, shared)

	aw, err := f.conn.AccountWallet()
	require.NoError(t, err)
	assert.Equal(t, account, aw.Active())
}

func TestExternalSigner_SendsWithExtensionWitness(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)
	ctx := context.Background()
	require.NoError(t, f.conn.Connect(ctx))

	deployed, err := f.conn.EnsureDeployed(ctx)
	require.NoError(t, err)
	assert.True(t, deployed)

	deployed, err = f.conn.EnsureDeployed(ctx)
	require.NoError(t, err)
	assert.False(t, deployed)

	sent := f.svc.Sent()
	require.Len(t, sent, 1)
	require.Len(t, sent[0].AuthWitnesses, 1)
	assert.Len(t, sent[0].AuthWitnesses[0].Fields, 64)
}

func TestExternalSigner_ProviderNotFound(t *testing.T) {
	svc := pxetest.New()
	conn := connector.NewExternalSigner(connector.ExternalSignerConfig{
		RDNS:      "io.missing",
		Discovery: providerMap{},
		Cache:     newCache(t, svc),
	})

	assert.False(t, conn.Status().IsInstalled)
	err := conn.Connect(context.Background())
	assert.ErrorIs(t, err, connector.ErrProviderNotFound)

	st := conn.Status()
	assert.Equal(t, connector.StateDisconnected, st.State)
	assert.NotEmpty(t, st.Error)
}

func TestExternalSigner_SignatureRejected(t *testing.T) {
	approveAccountsOnly := func(ctx context.Context, method string, params []any) bool {
		return method == provider.MethodRequestAccounts
	}
	f := newExternal(t, "io.test.signer", approveAccountsOnly)

	err := f.conn.Connect(context.Background())
	assert.ErrorIs(t, err, signerbridge.ErrSigningRejected)

	st := f.conn.Status()
	assert.Equal(t, connector.StateDisconnected, st.State)
	assert.Contains(t, st.Error, "rejected")
	assert.Nil(t, f.conn.Account())

	_, _, ok := f.state.Connected()
	assert.False(t, ok)
}

func TestExternalSigner_SharedState(t *testing.T) {
	svc := pxetest.New()
	cache := newCache(t, svc)
	state := connector.NewExternalState()
	a := newExternalOn(t, "io.signer.a", provider.AlwaysApprove, cache, svc, state)
	b := newExternalOn(t, "io.signer.b", provider.AlwaysApprove, cache, svc, state)
	ctx := context.Background()

	require.NoError(t, a.conn.Connect(ctx))
	assert.Equal(t, connector.StateConnected, a.conn.Status().State)
	assert.Equal(t, connector.StateDisconnected, b.conn.Status().State)

	require.NoError(t, b.conn.Connect(ctx))
	assert.Equal(t, connector.StateDisconnected, a.conn.Status().State)
	assert.Nil(t, a.conn.Account())
	assert.Equal(t, connector.StateConnected, b.conn.Status().State)

	// a disconnecting must not clear b's address
	require.NoError(t, a.conn.Disconnect(ctx))
	assert.Equal(t, connector.StateConnected, b.conn.Status().State)
}

// countingProvider tracks how many listeners are registered on a provider
type countingProvider struct {
	provider.Provider

	mu        sync.Mutex
	listeners int
}

func (p *countingProvider) On(event string, listener provider.Listener) func() {
	remove := p.Provider.On(event, listener)
	p.mu.Lock()
	p.listeners++
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			remove()
			p.mu.Lock()
			p.listeners--
			p.mu.Unlock()
		})
	}
}

func (p *countingProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listeners
}

func TestExternalSigner_ReconnectReplacesListener(t *testing.T) {
	svc := pxetest.New()
	cache := newCache(t, svc)
	state := connector.NewExternalState()
	ctx := context.Background()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p := &countingProvider{Provider: provider.NewLocalProvider(big.NewInt(31337), provider.AlwaysApprove, wallet.NewPrivateKeySigner(key))}
	a := connector.NewExternalSigner(connector.ExternalSignerConfig{
		RDNS:   "io.signer.a",
		Target: connector.Target{Network: "sandbox", NodeURL: "http://node", L1ChainID: 31337},
		Discovery: providerMap{"io.signer.a": {
			Info:     discovery.Info{Name: "Signer A", RDNS: "io.signer.a"},
			Provider: p,
		}},
		Cache:  cache,
		State:  state,
		Poller: fastPoller,
	})
	b := newExternalOn(t, "io.signer.b", provider.AlwaysApprove, cache, svc, state)

	require.NoError(t, a.Connect(ctx))
	require.NoError(t, b.conn.Connect(ctx))
	require.NoError(t, a.Connect(ctx))
	assert.Equal(t, 1, p.count())

	require.NoError(t, a.Disconnect(ctx))
	assert.Equal(t, 0, p.count())
}

func TestExternalSigner_Disconnect(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)
	ctx := context.Background()
	require.NoError(t, f.conn.Connect(ctx))
	account := f.conn.Account()

	require.NoError(t, f.conn.Disconnect(ctx))
	assert.Nil(t, f.conn.Account())
	assert.Equal(t, connector.StateDisconnected, f.conn.Status().State)
	_, _, ok := f.state.Connected()
	assert.False(t, ok)

	aw, err := f.conn.AccountWallet()
	require.NoError(t, err)
	assert.Nil(t, aw.Active())

	// reconnecting derives the same account
	require.NoError(t, f.conn.Connect(ctx))
	assert.Equal(t, account.Address, f.conn.Account().Address)
}

func TestExternalSigner_RevokeDisconnects(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)
	require.NoError(t, f.conn.Connect(context.Background()))

	f.provider.Revoke()

	assert.Nil(t, f.conn.Account())
	assert.Equal(t, connector.StateDisconnected, f.conn.Status().State)
}

func TestExternalSigner_HasStandingPermission(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)
	ctx := context.Background()

	assert.False(t, f.conn.HasStandingPermission(ctx))

	_, err := provider.RequestAccounts(ctx, f.provider)
	require.NoError(t, err)
	assert.True(t, f.conn.HasStandingPermission(ctx))
}

func TestExternalSigner_PXENotReady(t *testing.T) {
	f := newExternal(t, "io.test.signer", provider.AlwaysApprove)

	_, err := f.conn.PXE()
	assert.ErrorIs(t, err, connector.ErrPXENotReady)
	assert.ErrorIs(t, err, pxe.ErrNotReady)
	_, err = f.conn.SponsoredFeePaymentMethod(context.Background())
	assert.ErrorIs(t, err, connector.ErrPXENotReady)
	_, err = f.conn.EnsureDeployed(context.Background())
	assert.ErrorIs(t, err, connector.ErrNotConnected)
}

func TestExternalSigner_ChainMismatchIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p := provider.NewLocalProvider(big.NewInt(1), provider.AlwaysApprove, wallet.NewPrivateKeySigner(key))

	conn := connector.NewExternalSigner(connector.ExternalSignerConfig{
		RDNS:   "io.test.mainnet",
		Target: connector.Target{Network: "sandbox", NodeURL: "http://node", L1ChainID: 31337},
		Discovery: providerMap{"io.test.mainnet": {
			Info:     discovery.Info{Name: "Mainnet Signer", RDNS: "io.test.mainnet"},
			Provider: p,
		}},
		Cache:  newCache(t, pxetest.New()),
		Poller: fastPoller,
		Logger: zap.New(core),
	})

	// a mismatch is reported but does not block the connection
	require.NoError(t, conn.Connect(context.Background()))
	assert.Equal(t, connector.StateConnected, conn.Status().State)
	require.Equal(t, 1, logs.FilterMessage("External signer is on a different chain").Len())
}
