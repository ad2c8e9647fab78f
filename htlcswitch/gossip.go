package htlcswitch

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeTimestamp   tlv.Type = 0
	typeUpdChanID   tlv.Type = 2
	typeUpdChroma   tlv.Type = 4
	typeBaseFee     tlv.Type = 6
	typeFeeRate     tlv.Type = 8
	typeExpiryDelta tlv.Type = 10
	typeMinHTLC     tlv.Type = 12
	typeDisabled    tlv.Type = 14

	typeAnnChanID  tlv.Type = 0
	typeNode1      tlv.Type = 2
	typeNode2      tlv.Type = 4
	typeFundingTx  tlv.Type = 6
	typeFundingIdx tlv.Type = 8
	typeBalances   tlv.Type = 10
	typeFundingPk  tlv.Type = 12
)

// ChannelUpdate announces the forwarding policy the sending peer applies to
// one dimension of one of its channels.
type ChannelUpdate struct {
	// ChannelID is the channel the policy applies to.
	ChannelID lnwire.ShortChannelID

	// Chroma is the dimension the policy applies to.
	Chroma chroma.Chroma

	// Timestamp orders updates of the same channel direction.
	Timestamp uint32

	// BaseFee is the flat fee per HTLC.
	BaseFee uint64

	// FeeRate is the proportional fee in parts per million.
	FeeRate uint64

	// ExpiryDelta is the required expiry delta in blocks.
	ExpiryDelta uint16

	// MinHTLC is the smallest accepted HTLC.
	MinHTLC uint64

	// Disabled marks the direction as unusable.
	Disabled bool
}

// MsgType returns the protocol message type number.
func (m *ChannelUpdate) MsgType() lnwire.MessageType {
	return MsgTypeChannelUpdate
}

func (m *ChannelUpdate) records(scid *uint64,
	disabled *uint8) []tlv.Record {

	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeTimestamp, &m.Timestamp),
		channelIDRecord(typeUpdChanID, scid),
		chroma.NewRecord(typeUpdChroma, &m.Chroma),
		tlv.MakePrimitiveRecord(typeBaseFee, &m.BaseFee),
		tlv.MakePrimitiveRecord(typeFeeRate, &m.FeeRate),
		tlv.MakePrimitiveRecord(typeExpiryDelta, &m.ExpiryDelta),
		tlv.MakePrimitiveRecord(typeMinHTLC, &m.MinHTLC),
		tlv.MakePrimitiveRecord(typeDisabled, disabled),
	}
}

// Encode serializes the message as a TLV stream.
func (m *ChannelUpdate) Encode(w io.Writer) error {
	scid := m.ChannelID.ToUint64()

	var disabled uint8
	if m.Disabled {
		disabled = 1
	}

	return encodeStream(w, m.records(&scid, &disabled)...)
}

// Decode deserializes the message from a TLV stream.
func (m *ChannelUpdate) Decode(r io.Reader) error {
	var (
		scid     uint64
		disabled uint8
	)
	if err := decodeStream(r, m.records(&scid, &disabled)...); err != nil {
		return err
	}

	m.ChannelID = lnwire.NewShortChanIDFromInt(scid)
	m.Disabled = disabled != 0

	return nil
}

// String returns a human-readable string representation of the message.
func (m *ChannelUpdate) String() string {
	return fmt.Sprintf("ChannelUpdate(chan=%v, chroma=%v, ts=%d, "+
		"base_fee=%d, fee_rate=%d, delta=%d, disabled=%v)",
		m.ChannelID, m.Chroma.Short(), m.Timestamp, m.BaseFee,
		m.FeeRate, m.ExpiryDelta, m.Disabled)
}

// AnnouncedBalance is the balance of one dimension of an announced channel.
type AnnouncedBalance struct {
	// Chroma is the dimension.
	Chroma chroma.Chroma

	// Local1 is the amount Node1 can send.
	Local1 uint64

	// Local2 is the amount Node2 can send.
	Local2 uint64
}

// balanceSize is the encoded size of one AnnouncedBalance.
const balanceSize = chroma.Size + 8 + 8

// ChannelAnnounce announces a channel between two nodes and its balances.
type ChannelAnnounce struct {
	// ChannelID is the announced channel.
	ChannelID lnwire.ShortChannelID

	// Node1 is the endpoint with the smaller key.
	Node1 [33]byte

	// Node2 is the endpoint with the larger key.
	Node2 [33]byte

	// FundingPoint is the funding outpoint of the channel.
	FundingPoint wire.OutPoint

	// FundingScript is the output script of the funding output. It is
	// needed to watch the funding transaction for confirmations.
	FundingScript []byte

	// Balances lists the balance of every dimension.
	Balances []AnnouncedBalance
}

// MsgType returns the protocol message type number.
func (m *ChannelAnnounce) MsgType() lnwire.MessageType {
	return MsgTypeChannelAnnounce
}

func (m *ChannelAnnounce) records(scid *uint64,
	txid *[32]byte) []tlv.Record {

	return []tlv.Record{
		channelIDRecord(typeAnnChanID, scid),
		tlv.MakeStaticRecord(
			typeNode1, &m.Node1, 33, tlv.EBytes33, tlv.DBytes33,
		),
		tlv.MakeStaticRecord(
			typeNode2, &m.Node2, 33, tlv.EBytes33, tlv.DBytes33,
		),
		tlv.MakePrimitiveRecord(typeFundingTx, txid),
		tlv.MakePrimitiveRecord(
			typeFundingIdx, &m.FundingPoint.Index,
		),
		tlv.MakeDynamicRecord(
			typeBalances, &m.Balances, m.balancesSize,
			balancesEncoder, balancesDecoder,
		),
		tlv.MakePrimitiveRecord(typeFundingPk, &m.FundingScript),
	}
}

func (m *ChannelAnnounce) balancesSize() uint64 {
	return uint64(len(m.Balances) * balanceSize)
}

// Encode serializes the message as a TLV stream.
func (m *ChannelAnnounce) Encode(w io.Writer) error {
	scid := m.ChannelID.ToUint64()
	txid := [32]byte(m.FundingPoint.Hash)

	return encodeStream(w, m.records(&scid, &txid)...)
}

// Decode deserializes the message from a TLV stream.
func (m *ChannelAnnounce) Decode(r io.Reader) error {
	var (
		scid uint64
		txid [32]byte
	)
	if err := decodeStream(r, m.records(&scid, &txid)...); err != nil {
		return err
	}

	m.ChannelID = lnwire.NewShortChanIDFromInt(scid)
	m.FundingPoint.Hash = chainhash.Hash(txid)

	return nil
}

// String returns a human-readable string representation of the message.
func (m *ChannelAnnounce) String() string {
	return fmt.Sprintf("ChannelAnnounce(chan=%v, node1=%x, node2=%x, "+
		"dimensions=%d)", m.ChannelID, m.Node1[:4], m.Node2[:4],
		len(m.Balances))
}

func balancesEncoder(w io.Writer, val any, buf *[8]byte) error {
	if t, ok := val.(*[]AnnouncedBalance); ok {
		for _, b := range *t {
			if _, err := w.Write(b.Chroma[:]); err != nil {
				return err
			}
			if err := tlv.EUint64T(w, b.Local1, buf); err != nil {
				return err
			}
			if err := tlv.EUint64T(w, b.Local2, buf); err != nil {
				return err
			}
		}

		return nil
	}

	return tlv.NewTypeForEncodingErr(val, "[]AnnouncedBalance")
}

func balancesDecoder(r io.Reader, val any, buf *[8]byte, l uint64) error {
	if t, ok := val.(*[]AnnouncedBalance); ok && l%balanceSize == 0 {
		n := l / balanceSize
		balances := make([]AnnouncedBalance, 0, n)

		var raw [balanceSize]byte
		for i := uint64(0); i < n; i++ {
			if _, err := io.ReadFull(r, raw[:]); err != nil {
				return err
			}

			var b AnnouncedBalance
			copy(b.Chroma[:], raw[:chroma.Size])
			b.Local1 = binary.BigEndian.Uint64(
				raw[chroma.Size : chroma.Size+8],
			)
			b.Local2 = binary.BigEndian.Uint64(
				raw[chroma.Size+8:],
			)
			balances = append(balances, b)
		}
		*t = balances

		return nil
	}

	return tlv.NewTypeForDecodingErr(val, "[]AnnouncedBalance", l, l)
}
