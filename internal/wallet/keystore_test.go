package wallet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletbridge/internal/testutil"
)

// Well-known development key; never use outside tests
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func newTestManager(t *testing.T) *KeystoreManager {
	t.Helper()
	km, err := NewLightKeystoreManager(testutil.TempDir(t))
	require.NoError(t, err)
	return km
}

func TestNewKeystoreManager(t *testing.T) {
	t.Run("creates keystore directory", func(t *testing.T) {
		dir := testutil.TempDir(t)
		km, err := NewKeystoreManager(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, km.DataDir())

		info, err := os.Stat(filepath.Join(dir, "keystore"))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("handles existing directory", func(t *testing.T) {
		dir := testutil.TempDir(t)
		_, err := NewLightKeystoreManager(dir)
		require.NoError(t, err)
		_, err = NewLightKeystoreManager(dir)
		require.NoError(t, err)
	})
}

func TestKeystoreManager_CreateAccount(t *testing.T) {
	km := newTestManager(t)

	acc1, err := km.CreateAccount("pass1")
	require.NoError(t, err)
	acc2, err := km.CreateAccount("pass2")
	require.NoError(t, err)

	assert.NotEqual(t, common.Address{}, acc1.Address)
	assert.NotEqual(t, acc1.Address, acc2.Address)
	assert.Len(t, km.ListAccounts(), 2)
	assert.True(t, km.HasAccount(acc1.Address))
}

func TestKeystoreManager_ImportKey(t *testing.T) {
	t.Run("imports valid private key", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.ImportKey(testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", account.Address.Hex())
	})

	t.Run("imports with 0x prefix", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.ImportKey("0x"+testPrivateKey, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", account.Address.Hex())
	})

	t.Run("rejects invalid keys", func(t *testing.T) {
		km := newTestManager(t)
		for _, key := range []string{"not-a-valid-hex-key", "abcd1234"} {
			_, err := km.ImportKey(key, "testpassword")
			assert.ErrorIs(t, err, ErrInvalidKey, key)
		}
	})
}

func TestKeystoreManager_GetSigner(t *testing.T) {
	t.Run("returns signer for valid account", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.CreateAccount("testpassword")
		require.NoError(t, err)

		signer, err := km.GetSigner(account.Address, "testpassword")
		require.NoError(t, err)
		assert.Equal(t, account.Address, signer.Address())
	})

	t.Run("returns error for wrong password", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.CreateAccount("correctpassword")
		require.NoError(t, err)

		_, err = km.GetSigner(account.Address, "wrongpassword")
		require.Error(t, err)
	})

	t.Run("returns error for non-existent address", func(t *testing.T) {
		km := newTestManager(t)
		_, err := km.GetSigner(common.HexToAddress("0x1234567890123456789012345678901234567890"), "anypassword")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}

func TestKeystoreManager_DeleteAccount(t *testing.T) {
	t.Run("removes the key", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.CreateAccount("testpassword")
		require.NoError(t, err)

		require.NoError(t, km.DeleteAccount(account.Address, "testpassword"))
		assert.False(t, km.HasAccount(account.Address))
		assert.Empty(t, km.ListAccounts())
	})

	t.Run("requires the password", func(t *testing.T) {
		km := newTestManager(t)
		account, err := km.CreateAccount("testpassword")
		require.NoError(t, err)

		require.Error(t, km.DeleteAccount(account.Address, "wrong"))
		assert.True(t, km.HasAccount(account.Address))
	})

	t.Run("unknown address", func(t *testing.T) {
		km := newTestManager(t)
		err := km.DeleteAccount(common.HexToAddress("0x01"), "x")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})
}
