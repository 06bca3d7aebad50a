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

func TestCredentialStore(t *testing.T) {
	t.Run("put then get survives reopen", func(t *testing.T) {
		dir := testutil.TempDir(t)
		store, err := NewCredentialStore(dir)
		require.NoError(t, err)

		cred := Credential{
			Address:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
			PXEAddress: "0x01",
			Network:    "sandbox",
			Deployed:   true,
			CreatedAt:  1700000000,
		}
		require.NoError(t, store.Put(cred))

		reopened, err := NewCredentialStore(dir)
		require.NoError(t, err)
		got, ok := reopened.Get("sandbox")
		require.True(t, ok)
		assert.Equal(t, cred, got)

		info, err := os.Stat(filepath.Join(dir, "accounts.json"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("missing network", func(t *testing.T) {
		store, err := NewCredentialStore(testutil.TempDir(t))
		require.NoError(t, err)
		_, ok := store.Get("devnet")
		assert.False(t, ok)
		assert.ErrorIs(t, store.Remove("devnet"), ErrAccountNotFound)
	})

	t.Run("rejects credential without network", func(t *testing.T) {
		store, err := NewCredentialStore(testutil.TempDir(t))
		require.NoError(t, err)
		assert.Error(t, store.Put(Credential{}))
	})

	t.Run("list is sorted and remove deletes", func(t *testing.T) {
		store, err := NewCredentialStore(testutil.TempDir(t))
		require.NoError(t, err)
		require.NoError(t, store.Put(Credential{Network: "sandbox"}))
		require.NoError(t, store.Put(Credential{Network: "devnet"}))

		list := store.List()
		require.Len(t, list, 2)
		assert.Equal(t, "devnet", list[0].Network)
		assert.Equal(t, "sandbox", list[1].Network)

		require.NoError(t, store.Remove("devnet"))
		assert.Len(t, store.List(), 1)
	})

	t.Run("corrupt file fails to open", func(t *testing.T) {
		dir := testutil.TempDir(t)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "accounts.json"), []byte("{"), 0600))
		_, err := NewCredentialStore(dir)
		assert.Error(t, err)
	})
}
