package htlcswitch

import (
	"errors"
	"testing"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/stretchr/testify/require"
)

var (
	testPreimage = lntypes.Preimage{1, 2, 3}
	testHash     = testPreimage.Hash()
	testKey      = CircuitKey{
		ShardKey: ShardKey{Hash: testHash, ShardID: 1},
		Hop:      0,
	}
	assetX = chroma.Chroma{0xaa}
)

func newTestHTLC() *HTLC {
	return NewHTLC(
		testKey, lnwire.NewShortChanIDFromInt(1), 1000, assetX, 200,
	)
}

// TestHTLCSuccessPath walks an HTLC through offer, commit and fulfill.
func TestHTLCSuccessPath(t *testing.T) {
	t.Parallel()

	h := newTestHTLC()
	require.Equal(t, StateOffered, h.State())

	// Fulfilling an offered HTLC is not allowed.
	require.ErrorIs(t, h.Fulfill(testPreimage), ErrInvalidTransition)

	require.NoError(t, h.Commit())
	require.NoError(t, h.Commit())
	require.Equal(t, StateCommitted, h.State())

	require.ErrorIs(
		t, h.Fulfill(lntypes.Preimage{9}), ErrPreimageMismatch,
	)
	require.Equal(t, StateCommitted, h.State())

	require.NoError(t, h.Fulfill(testPreimage))
	require.Equal(t, StateFulfilled, h.State())

	// A redelivered fulfill is a no-op.
	require.NoError(t, h.Fulfill(testPreimage))

	preimage, ok := h.Preimage()
	require.True(t, ok)
	require.Equal(t, testPreimage, preimage)

	// A failure after fulfillment is a double resolution.
	require.ErrorIs(t, h.Fail(errors.New("late")), ErrDoubleResolution)
	require.ErrorIs(t, h.Commit(), ErrInvalidTransition)
	require.Equal(t, StateFulfilled, h.State())

	// Fulfilled HTLCs never expire.
	require.False(t, h.CheckExpiry(1000))
}

// TestHTLCFailure checks both failure transitions.
func TestHTLCFailure(t *testing.T) {
	t.Parallel()

	errFirst := errors.New("first")

	offered := newTestHTLC()
	require.NoError(t, offered.Fail(errFirst))
	require.Equal(t, StateFailed, offered.State())

	committed := newTestHTLC()
	require.NoError(t, committed.Commit())
	require.NoError(t, committed.Fail(errFirst))

	// A redelivered failure keeps the first reason.
	require.NoError(t, committed.Fail(errors.New("second")))
	require.ErrorIs(t, committed.Failure(), errFirst)

	require.ErrorIs(
		t, committed.Fulfill(testPreimage), ErrDoubleResolution,
	)
	require.Equal(t, StateFailed, committed.State())

	_, ok := committed.Preimage()
	require.False(t, ok)
}

// TestHTLCExpiry checks the unilateral failure at the expiry height.
func TestHTLCExpiry(t *testing.T) {
	t.Parallel()

	h := newTestHTLC()
	require.NoError(t, h.Commit())

	require.False(t, h.CheckExpiry(199))
	require.Equal(t, StateCommitted, h.State())

	require.True(t, h.CheckExpiry(200))
	require.Equal(t, StateFailed, h.State())
	require.ErrorIs(t, h.Failure(), ErrExpiryElapsed)

	// Only the first expiry counts.
	require.False(t, h.CheckExpiry(201))

	require.ErrorIs(t, h.Fulfill(testPreimage), ErrDoubleResolution)
}
