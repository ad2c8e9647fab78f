package htlcswitch

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/stretchr/testify/require"
)

// TestMessageWireFormat makes sure every message survives the trip through
// the wire format unchanged.
func TestMessageWireFormat(t *testing.T) {
	t.Parallel()

	scid := lnwire.NewShortChanIDFromInt(0x0102030405)
	peer := route.Vertex{0x02, 0x11}

	testCases := []struct {
		name string
		msg  Message
	}{{
		name: "add htlc",
		msg: &AddHTLC{
			CircuitKey:  testKey,
			ChannelID:   scid,
			Amount:      5000,
			Chroma:      assetX,
			Expiry:      800_123,
			Carrier:     354,
			TotalAmount: 10_000,
		},
	}, {
		name: "add htlc with keysend preimage",
		msg: &AddHTLC{
			CircuitKey:      testKey,
			ChannelID:       scid,
			Amount:          5000,
			TotalAmount:     5000,
			KeysendPreimage: &testPreimage,
		},
	}, {
		name: "ack htlc",
		msg:  &AckHTLC{CircuitKey: testKey},
	}, {
		name: "commit htlc",
		msg: &CommitHTLC{
			CircuitKey: testKey,
			Sig:        []byte{0x30, 0x44, 0x02, 0x20},
		},
	}, {
		name: "fulfill htlc",
		msg: &FulfillHTLC{
			CircuitKey: testKey,
			Preimage:   testPreimage,
		},
	}, {
		name: "fail htlc",
		msg: &FailHTLC{
			CircuitKey: testKey,
			Code:       CodeMppTimeout,
			Reason:     []byte("gave up"),
		},
	}, {
		name: "channel update",
		msg: &ChannelUpdate{
			ChannelID:   scid,
			Chroma:      assetX,
			Timestamp:   1_700_000_000,
			BaseFee:     1000,
			FeeRate:     100,
			ExpiryDelta: 40,
			MinHTLC:     1,
			Disabled:    true,
		},
	}, {
		name: "channel announce",
		msg: &ChannelAnnounce{
			ChannelID: scid,
			Node1:     [33]byte{0x02, 0x01},
			Node2:     [33]byte{0x03, 0x02},
			FundingPoint: wire.OutPoint{
				Hash:  chainhash.Hash{0xfe},
				Index: 3,
			},
			FundingScript: []byte{0x51, 0x20, 0xaa},
			Balances: []AnnouncedBalance{{
				Local1: 60_000,
				Local2: 40_000,
			}, {
				Chroma: assetX,
				Local1: 7,
				Local2: 0,
			}},
		},
	}}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			wireMsg, err := ToWire(peer, tc.msg)
			require.NoError(t, err)
			require.Equal(t, peer, wireMsg.Peer)
			require.Equal(t, tc.msg.MsgType(), wireMsg.MsgType)

			decoded, err := NewMessageFromWire(wireMsg)
			require.NoError(t, err)
			require.Equal(t, tc.msg, decoded)
		})
	}
}

// TestUnknownMessageType checks that foreign custom messages are reported as
// unknown.
func TestUnknownMessageType(t *testing.T) {
	t.Parallel()

	_, err := NewMessageFromWire(WireMessage{
		MsgType: YuvMessageTypeBaseOffset + 100,
	})
	require.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = NewMessageFromWire(WireMessage{
		MsgType: MsgTypeAddHTLC,
		Data:    []byte{0xff},
	})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrUnknownMessageType)
}

// TestFailToError checks the conversion of a failure into a hop rejection.
func TestFailToError(t *testing.T) {
	t.Parallel()

	key := testKey
	key.Hop = 2

	fail := &FailHTLC{
		CircuitKey: key,
		Code:       CodeTemporaryChannelFailure,
		Reason:     []byte("no liquidity"),
	}

	scid := lnwire.NewShortChanIDFromInt(7)
	hopErr := fail.ToError(route.Vertex{0x03}, scid)
	require.Equal(t, uint16(2), hopErr.Hop)
	require.Equal(t, scid, hopErr.ChannelID)
	require.Equal(t, CodeTemporaryChannelFailure, hopErr.Code)
	require.Contains(t, hopErr.Error(), "temporary_channel_failure")
	require.Contains(t, hopErr.Error(), "no liquidity")
}

// TestCommitmentDigest makes sure the digest commits to every field of the
// offered HTLC.
func TestCommitmentDigest(t *testing.T) {
	t.Parallel()

	add := &AddHTLC{
		CircuitKey: testKey,
		Amount:     10,
		Chroma:     assetX,
		Expiry:     100,
	}
	d1, err := add.CommitmentDigest()
	require.NoError(t, err)

	d2, err := add.CommitmentDigest()
	require.NoError(t, err)
	require.Equal(t, d1, d2)

	add.Amount = 11
	d3, err := add.CommitmentDigest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d3)

	add.Amount = 10
	add.Expiry = 101
	d4, err := add.CommitmentDigest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d4)

	add.Expiry = 100
	add.KeysendPreimage = &testPreimage
	d5, err := add.CommitmentDigest()
	require.NoError(t, err)
	require.NotEqual(t, d1, d5)
}
