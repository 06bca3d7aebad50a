package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/walletbridge/internal/connector"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/testutil"
)

type fakeConnector struct {
	mu sync.Mutex

	id         string
	typ        connector.Type
	state      connector.State
	connectErr error
	connects   int

	credentials bool
	permission  bool
}

func (f *fakeConnector) Info() connector.Info {
	return connector.Info{ID: f.id, Label: f.id, Type: f.typ}
}

func (f *fakeConnector) Status() connector.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	state := f.state
	if state == "" {
		state = connector.StateDisconnected
	}
	return connector.Status{IsInstalled: true, State: state}
}

func (f *fakeConnector) Account() *pxe.Account {
	if f.Status().State != connector.StateConnected {
		return nil
	}
	return pxe.NewAccount(pxe.Address{31: 1})
}

func (f *fakeConnector) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return f.connectErr
	}
	f.state = connector.StateConnected
	return nil
}

func (f *fakeConnector) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = connector.StateDisconnected
	return nil
}

func (f *fakeConnector) HasCredentials() bool { return f.credentials }

func (f *fakeConnector) HasStandingPermission(ctx context.Context) bool { return f.permission }

func (f *fakeConnector) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func registryOf(cs ...*fakeConnector) *connector.Registry {
	factories := make([]connector.Factory, len(cs))
	for i, c := range cs {
		c := c
		factories[i] = func() connector.Connector { return c }
	}
	return connector.NewRegistry(factories, nil)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(testutil.TempDir(t))
	require.NoError(t, err)
	return store
}

func TestStore(t *testing.T) {
	t.Run("missing file loads nil", func(t *testing.T) {
		rec, err := newStore(t).Load("sandbox")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("save load clear", func(t *testing.T) {
		dir := testutil.TempDir(t)
		store, err := NewStore(dir)
		require.NoError(t, err)

		want := PersistedConnection{ConnectorID: "embedded", WalletType: connector.TypeEmbedded}
		require.NoError(t, store.Save("sandbox", want))

		info, err := os.Stat(filepath.Join(dir, "connection.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		reopened, err := NewStore(dir)
		require.NoError(t, err)
		rec, err := reopened.Load("sandbox")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, want, *rec)

		other, err := reopened.Load("devnet")
		require.NoError(t, err)
		assert.Nil(t, other)

		require.NoError(t, reopened.Clear("sandbox"))
		rec, err = reopened.Load("sandbox")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("rejects empty id", func(t *testing.T) {
		assert.Error(t, newStore(t).Save("sandbox", PersistedConnection{}))
	})

	t.Run("corrupt file", func(t *testing.T) {
		dir := testutil.TempDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "connection.json"), []byte("{"), 0600))
		store, err := NewStore(dir)
		require.NoError(t, err)
		_, err = store.Load("sandbox")
		assert.Error(t, err)
	})
}

func TestManager(t *testing.T) {
	ctx := context.Background()

	t.Run("connect persists, disconnect clears", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		store := newStore(t)
		m := NewManager("sandbox", registryOf(c), store, nil)

		_, err := m.Connect(ctx, "browser")
		require.NoError(t, err)
		rec, err := store.Load("sandbox")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, PersistedConnection{ConnectorID: "browser", WalletType: connector.TypeBrowserManaged}, *rec)

		require.NoError(t, m.Disconnect(ctx, "browser"))
		rec, err = store.Load("sandbox")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("failed connect persists nothing", func(t *testing.T) {
		c := &fakeConnector{id: "embedded", typ: connector.TypeEmbedded, connectErr: errors.New("boom")}
		store := newStore(t)
		m := NewManager("sandbox", registryOf(c), store, nil)

		_, err := m.Connect(ctx, "embedded")
		assert.Error(t, err)
		rec, err := store.Load("sandbox")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("unknown connector", func(t *testing.T) {
		m := NewManager("sandbox", registryOf(), newStore(t), nil)
		_, err := m.Connect(ctx, "nope")
		assert.ErrorIs(t, err, ErrUnknownConnector)
		assert.ErrorIs(t, m.Disconnect(ctx, "nope"), ErrUnknownConnector)
	})
}

func TestReconnector(t *testing.T) {
	ctx := context.Background()

	persisted := func(t *testing.T, id string, typ connector.Type) *Store {
		store := newStore(t)
		require.NoError(t, store.Save("sandbox", PersistedConnection{ConnectorID: id, WalletType: typ}))
		return store
	}

	t.Run("embedded with credentials", func(t *testing.T) {
		c := &fakeConnector{id: "embedded", typ: connector.TypeEmbedded, credentials: true}
		NewReconnector("sandbox", registryOf(c), persisted(t, "embedded", connector.TypeEmbedded), nil).Run(ctx)
		assert.Equal(t, 1, c.connectCalls())
	})

	t.Run("embedded without credentials", func(t *testing.T) {
		c := &fakeConnector{id: "embedded", typ: connector.TypeEmbedded}
		NewReconnector("sandbox", registryOf(c), persisted(t, "embedded", connector.TypeEmbedded), nil).Run(ctx)
		assert.Equal(t, 0, c.connectCalls())
	})

	t.Run("external signer needs standing permission", func(t *testing.T) {
		denied := &fakeConnector{id: "external:io.a", typ: connector.TypeExternalSigner}
		NewReconnector("sandbox", registryOf(denied), persisted(t, "external:io.a", connector.TypeExternalSigner), nil).Run(ctx)
		assert.Equal(t, 0, denied.connectCalls())

		granted := &fakeConnector{id: "external:io.a", typ: connector.TypeExternalSigner, permission: true}
		NewReconnector("sandbox", registryOf(granted), persisted(t, "external:io.a", connector.TypeExternalSigner), nil).Run(ctx)
		assert.Equal(t, 1, granted.connectCalls())
	})

	t.Run("browser managed always attempts", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		NewReconnector("sandbox", registryOf(c), persisted(t, "browser", connector.TypeBrowserManaged), nil).Run(ctx)
		assert.Equal(t, 1, c.connectCalls())
	})

	t.Run("unknown connector id makes no attempt", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		assert.NotPanics(t, func() {
			NewReconnector("sandbox", registryOf(c), persisted(t, "gone", connector.TypeBrowserManaged), nil).Run(ctx)
		})
		assert.Equal(t, 0, c.connectCalls())
	})

	t.Run("type change makes no attempt", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		NewReconnector("sandbox", registryOf(c), persisted(t, "browser", connector.TypeExternalSigner), nil).Run(ctx)
		assert.Equal(t, 0, c.connectCalls())
	})

	t.Run("skipped while another connector is active", func(t *testing.T) {
		busy := &fakeConnector{id: "embedded", typ: connector.TypeEmbedded, state: connector.StateConnecting}
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		NewReconnector("sandbox", registryOf(busy, c), persisted(t, "browser", connector.TypeBrowserManaged), nil).Run(ctx)
		assert.Equal(t, 0, c.connectCalls())
	})

	t.Run("runs once and swallows errors", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged, connectErr: errors.New("wallet locked")}
		r := NewReconnector("sandbox", registryOf(c), persisted(t, "browser", connector.TypeBrowserManaged), nil)
		r.Run(ctx)
		r.Run(ctx)
		assert.Equal(t, 1, c.connectCalls())
	})

	t.Run("nothing persisted", func(t *testing.T) {
		c := &fakeConnector{id: "browser", typ: connector.TypeBrowserManaged}
		NewReconnector("sandbox", registryOf(c), newStore(t), nil).Run(ctx)
		assert.Equal(t, 0, c.connectCalls())
	})
}
