package receipts

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yolodolo42/walletbridge/internal/pxe"
	"github.com/yolodolo42/walletbridge/internal/testutil"
)

// scriptedFetcher returns its responses in order, repeating the last one
type scriptedFetcher struct {
	responses []*pxe.TxReceipt
	errs      []error
	calls     int
}

func (f *scriptedFetcher) GetTxReceipt(ctx context.Context, txHash common.Hash) (*pxe.TxReceipt, error) {
	i := f.calls
	f.calls++
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.responses[i], err
}

func TestPoller_Wait(t *testing.T) {
	hash := common.HexToHash("0xabc")
	fast := Poller{Attempts: 5, Interval: time.Millisecond}
	pending := &pxe.TxReceipt{TxHash: hash, Status: pxe.TxStatusPending}

	t.Run("returns once mined", func(t *testing.T) {
		f := &scriptedFetcher{responses: []*pxe.TxReceipt{
			pending, pending,
			{TxHash: hash, Status: pxe.TxStatusSuccess, BlockNumber: 7},
		}}
		receipt, err := fast.Wait(context.Background(), f, hash)
		require.NoError(t, err)
		assert.Equal(t, uint64(7), receipt.BlockNumber)
		assert.Equal(t, 3, f.calls)
	})

	t.Run("keeps polling through fetch errors", func(t *testing.T) {
		f := &scriptedFetcher{
			responses: []*pxe.TxReceipt{nil, {TxHash: hash, Status: pxe.TxStatusSuccess}},
			errs:      []error{errors.New("unknown tx")},
		}
		_, err := fast.Wait(context.Background(), f, hash)
		require.NoError(t, err)
	})

	t.Run("reverted returns receipt and error", func(t *testing.T) {
		f := &scriptedFetcher{responses: []*pxe.TxReceipt{{TxHash: hash, Status: pxe.TxStatusReverted, Error: "assertion failed"}}}
		receipt, err := fast.Wait(context.Background(), f, hash)
		assert.ErrorIs(t, err, ErrTxFailed)
		require.NotNil(t, receipt)
		assert.Equal(t, pxe.TxStatusReverted, receipt.Status)
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		f := &scriptedFetcher{responses: []*pxe.TxReceipt{pending}}
		_, err := fast.Wait(context.Background(), f, hash)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 5, f.calls)
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		f := &scriptedFetcher{responses: []*pxe.TxReceipt{pending}}
		_, err := Poller{Attempts: 5, Interval: time.Hour}.Wait(ctx, f, hash)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, f.calls)
	})
}

func TestNewPoller_Defaults(t *testing.T) {
	p := NewPoller(0, 0)
	assert.Equal(t, DefaultAttempts, p.Attempts)
	assert.Equal(t, DefaultInterval, p.Interval)
}

func TestStore(t *testing.T) {
	t.Run("creates db file", func(t *testing.T) {
		dir := testutil.TempDir(t)
		store, err := Open(dir)
		require.NoError(t, err)
		require.NoError(t, store.Close())

		_, err = os.Stat(filepath.Join(dir, "receipts.db"))
		require.NoError(t, err)
	})

	t.Run("records and updates receipts", func(t *testing.T) {
		store, err := OpenDSN(":memory:")
		require.NoError(t, err)
		defer store.Close()

		hash := common.HexToHash("0x01")
		require.NoError(t, store.RecordReceipt("sandbox", "embedded", "0xacc", KindDeployment,
			&pxe.TxReceipt{TxHash: hash, Status: pxe.TxStatusPending}))
		require.NoError(t, store.RecordReceipt("sandbox", "embedded", "0xacc", KindDeployment,
			&pxe.TxReceipt{TxHash: hash, Status: pxe.TxStatusSuccess, BlockNumber: 3}))

		r, err := store.Get("sandbox", hash)
		require.NoError(t, err)
		assert.Equal(t, pxe.TxStatusSuccess, r.Status)
		assert.Equal(t, uint64(3), r.BlockNumber)
		assert.Equal(t, KindDeployment, r.Kind)
		assert.Equal(t, "embedded", r.ConnectorID)

		_, err = store.Get("devnet", hash)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("lists newest first", func(t *testing.T) {
		store, err := OpenDSN(":memory:")
		require.NoError(t, err)
		defer store.Close()

		base := time.Unix(1700000000, 0)
		for i := 1; i <= 3; i++ {
			require.NoError(t, store.Upsert(Record{
				Network:   "sandbox",
				TxHash:    common.BigToHash(big.NewInt(int64(i))),
				Kind:      KindTransaction,
				Status:    pxe.TxStatusSuccess,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}

		list, err := store.List("sandbox", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.True(t, list[0].CreatedAt.After(list[1].CreatedAt))
	})

	t.Run("validates input", func(t *testing.T) {
		store, err := OpenDSN(":memory:")
		require.NoError(t, err)
		defer store.Close()

		assert.Error(t, store.Upsert(Record{TxHash: common.HexToHash("0x01")}))
		assert.Error(t, store.Upsert(Record{Network: "sandbox"}))
		assert.Error(t, store.RecordReceipt("sandbox", "", "", KindTransaction, nil))
	})
}
