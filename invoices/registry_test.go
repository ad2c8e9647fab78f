package invoices

import (
	"context"
	"testing"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	testTime = time.Unix(1_700_000_000, 0)

	assetX = chroma.Chroma{0xaa}
	assetY = chroma.Chroma{0xbb}
)

func newTestRegistry(t *testing.T, store Store,
	c clock.Clock) *Registry {

	r := NewRegistry(&RegistryConfig{
		Store: store,
		Clock: c,
	})
	require.NoError(t, r.Start())
	t.Cleanup(func() {
		require.NoError(t, r.Stop())
	})

	return r
}

// TestAddInvoice checks invoice creation and lookup.
func TestAddInvoice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	testClock := clock.NewTestClock(testTime)
	r := newTestRegistry(t, NewMockStore(), testClock)

	inv, err := r.AddInvoice(ctx, 1000, assetX, 0)
	require.NoError(t, err)
	require.True(t, inv.Preimage.Matches(inv.Hash))
	require.Equal(t, StateOpen, inv.State)
	require.Equal(t, testTime.Add(DefaultInvoiceExpiry), inv.ExpiresAt)

	got, err := r.LookupInvoice(inv.Hash)
	require.NoError(t, err)
	require.Equal(t, inv, got)

	_, err = r.LookupInvoice(lntypes.Hash{0x01})
	require.ErrorIs(t, err, ErrInvoiceNotFound)

	_, err = r.AddInvoice(ctx, 0, assetX, time.Minute)
	require.ErrorIs(t, err, ErrInvalidInvoice)

	// Every invoice gets its own preimage.
	testClock.SetTime(testTime.Add(time.Second))
	second, err := r.AddInvoice(ctx, 1000, assetX, time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, inv.Hash, second.Hash)

	invoices := r.ListInvoices()
	require.Len(t, invoices, 2)
	require.Equal(t, second.Hash, invoices[0].Hash)

	require.False(t, second.Expired(testTime.Add(time.Minute)))
	require.True(t, second.Expired(testTime.Add(time.Minute+time.Second)))
}

// TestCancelInvoice checks that only open invoices can be resolved.
func TestCancelInvoice(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(t, NewMockStore(), clock.NewTestClock(testTime))

	inv, err := r.AddInvoice(ctx, 1000, assetX, 0)
	require.NoError(t, err)

	require.NoError(t, r.CancelInvoice(ctx, inv.Hash))

	got, err := r.LookupInvoice(inv.Hash)
	require.NoError(t, err)
	require.Equal(t, StateCancelled, got.State)
	require.Equal(t, testTime, got.SettledAt)

	require.ErrorIs(t, r.CancelInvoice(ctx, inv.Hash), ErrInvoiceNotOpen)

	_, err = r.settle(ctx, inv.Hash, 1000)
	require.ErrorIs(t, err, ErrInvoiceNotOpen)

	require.ErrorIs(
		t, r.CancelInvoice(ctx, lntypes.Hash{0x01}), ErrInvoiceNotFound,
	)
}

// TestRegistryRestart makes sure invoices survive a restart.
func TestRegistryRestart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMockStore()
	testClock := clock.NewTestClock(testTime)

	r := newTestRegistry(t, store, testClock)
	inv, err := r.AddInvoice(ctx, 1000, assetX, 0)
	require.NoError(t, err)

	_, err = r.settle(ctx, inv.Hash, 1200)
	require.NoError(t, err)

	restarted := newTestRegistry(t, store, testClock)
	got, err := restarted.LookupInvoice(inv.Hash)
	require.NoError(t, err)
	require.Equal(t, StateSettled, got.State)
	require.Equal(t, uint64(1200), got.AmountPaid)
	require.Equal(t, inv.Preimage, got.Preimage)
}

// TestRegistrySubscriber checks that state changes are published.
func TestRegistrySubscriber(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := newTestRegistry(t, NewMockStore(), clock.NewTestClock(testTime))

	open, err := r.AddInvoice(ctx, 1000, assetX, 0)
	require.NoError(t, err)

	sub := fn.NewEventReceiver[*Invoice](fn.DefaultQueueSize)
	require.NoError(t, r.RegisterSubscriber(sub, true, StateOpen))

	recv := func() *Invoice {
		t.Helper()

		select {
		case inv := <-sub.Updates.ChanOut():
			return inv
		case <-time.After(time.Second):
			t.Fatalf("no invoice event")
			return nil
		}
	}

	require.Equal(t, open.Hash, recv().Hash)

	require.NoError(t, r.CancelInvoice(ctx, open.Hash))
	cancelled := recv()
	require.Equal(t, open.Hash, cancelled.Hash)
	require.Equal(t, StateCancelled, cancelled.State)

	require.NoError(t, r.RemoveSubscriber(sub))
	require.Error(t, r.RemoveSubscriber(sub))
}
