package htlcswitch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/tlv"
)

// MaxMessageType is the maximum supported message type value.
const MaxMessageType = lnwire.MessageType(math.MaxUint16)

// YuvMessageTypeBaseOffset is the base offset of all router message types.
// It is the concatenation of the alphabetical index positions of the letters
// "y" (25), "u" (21) and "v" (22), placed in the custom message range.
// 32768 is lnwire.CustomTypeStart, which is a var (not a constant) in the
// pinned lnd version.
const YuvMessageTypeBaseOffset = lnwire.MessageType(32768 + 2522)

const (
	// MsgTypeAddHTLC offers an HTLC on one hop of a shard.
	MsgTypeAddHTLC = YuvMessageTypeBaseOffset + 0

	// MsgTypeAckHTLC acknowledges an offered HTLC.
	MsgTypeAckHTLC = YuvMessageTypeBaseOffset + 1

	// MsgTypeCommitHTLC carries the signed commitment update of an
	// acknowledged HTLC.
	MsgTypeCommitHTLC = YuvMessageTypeBaseOffset + 2

	// MsgTypeFulfillHTLC settles an HTLC with the payment preimage.
	MsgTypeFulfillHTLC = YuvMessageTypeBaseOffset + 3

	// MsgTypeFailHTLC fails an HTLC.
	MsgTypeFailHTLC = YuvMessageTypeBaseOffset + 4

	// MsgTypeChannelUpdate announces the policy of one channel direction.
	MsgTypeChannelUpdate = YuvMessageTypeBaseOffset + 5

	// MsgTypeChannelAnnounce announces a channel and its balances.
	MsgTypeChannelAnnounce = YuvMessageTypeBaseOffset + 6
)

var (
	// ErrUnknownMessageType is an error that is returned when an unknown
	// message type is encountered.
	ErrUnknownMessageType = errors.New("unknown message type")
)

// WireMessage is a struct that represents a general wire message.
type WireMessage struct {
	// Peer is the origin/destination peer for this message.
	Peer route.Vertex

	// MsgType is the protocol message type number.
	MsgType lnwire.MessageType

	// Data is the data exchanged.
	Data []byte
}

// Message is a router protocol message.
type Message interface {
	// MsgType returns the protocol message type number.
	MsgType() lnwire.MessageType

	// Encode serializes the message as a TLV stream.
	Encode(w io.Writer) error

	// Decode deserializes the message from a TLV stream.
	Decode(r io.Reader) error

	// String returns a human-readable string representation of the
	// message.
	String() string
}

// CircuitMessage is a message about the HTLC of one hop of one shard.
type CircuitMessage interface {
	Message

	// Circuit returns the HTLC the message refers to.
	Circuit() CircuitKey
}

// PeerMessage is a decoded message together with its origin or destination
// peer.
type PeerMessage struct {
	// Peer is the remote node.
	Peer route.Vertex

	// Msg is the decoded message.
	Msg Message
}

// ToWire serializes a message for the given peer.
func ToWire(peer route.Vertex, msg Message) (WireMessage, error) {
	var b bytes.Buffer
	if err := msg.Encode(&b); err != nil {
		return WireMessage{}, fmt.Errorf("unable to encode %v: %w",
			msg, err)
	}

	return WireMessage{
		Peer:    peer,
		MsgType: msg.MsgType(),
		Data:    b.Bytes(),
	}, nil
}

// NewMessageFromWire decodes a wire message.
func NewMessageFromWire(wireMsg WireMessage) (Message, error) {
	var msg Message
	switch wireMsg.MsgType {
	case MsgTypeAddHTLC:
		msg = &AddHTLC{}
	case MsgTypeAckHTLC:
		msg = &AckHTLC{}
	case MsgTypeCommitHTLC:
		msg = &CommitHTLC{}
	case MsgTypeFulfillHTLC:
		msg = &FulfillHTLC{}
	case MsgTypeFailHTLC:
		msg = &FailHTLC{}
	case MsgTypeChannelUpdate:
		msg = &ChannelUpdate{}
	case MsgTypeChannelAnnounce:
		msg = &ChannelAnnounce{}
	default:
		return nil, ErrUnknownMessageType
	}

	if err := msg.Decode(bytes.NewReader(wireMsg.Data)); err != nil {
		return nil, fmt.Errorf("unable to decode message type %d: %w",
			wireMsg.MsgType, err)
	}

	return msg, nil
}

const (
	typeHash       tlv.Type = 0
	typeShardID    tlv.Type = 2
	typeHop        tlv.Type = 4
	typeChannelID  tlv.Type = 6
	typeAmount     tlv.Type = 8
	typeChroma     tlv.Type = 10
	typeExpiry     tlv.Type = 12
	typeCarrier    tlv.Type = 14
	typeTotal      tlv.Type = 16
	typeSig        tlv.Type = 18
	typePreimage   tlv.Type = 20
	typeFailCode   tlv.Type = 22
	typeFailReason tlv.Type = 24
	typeKeysend    tlv.Type = 26
)

// circuitRecords returns the records identifying an HTLC.
func circuitRecords(k *CircuitKey) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeHash, (*[32]byte)(&k.Hash)),
		tlv.MakePrimitiveRecord(typeShardID, &k.ShardID),
		tlv.MakePrimitiveRecord(typeHop, &k.Hop),
	}
}

func encodeStream(w io.Writer, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

func decodeStream(r io.Reader, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}

	return stream.Decode(r)
}

// channelIDRecord returns a record for a short channel ID.
func channelIDRecord(typ tlv.Type, id *uint64) tlv.Record {
	return tlv.MakePrimitiveRecord(typ, id)
}

// AddHTLC offers the HTLC of one hop of a shard to the receiving node of that
// hop.
type AddHTLC struct {
	CircuitKey

	// ChannelID is the channel the HTLC is added to.
	ChannelID lnwire.ShortChannelID

	// Amount is the amount of the HTLC.
	Amount uint64

	// Chroma is the dimension of the amount.
	Chroma chroma.Chroma

	// Expiry is the absolute expiry height of the HTLC.
	Expiry uint32

	// Carrier is the base currency amount carrying an asset HTLC.
	Carrier uint64

	// TotalAmount is the total amount of the payment. The destination
	// uses it to decide when the set of shards is complete.
	TotalAmount uint64

	// KeysendPreimage is only set on the final hop of a spontaneous
	// payment. It lets the destination settle without an invoice.
	KeysendPreimage *lntypes.Preimage
}

// MsgType returns the protocol message type number.
func (m *AddHTLC) MsgType() lnwire.MessageType {
	return MsgTypeAddHTLC
}

// Circuit returns the HTLC the message refers to.
func (m *AddHTLC) Circuit() CircuitKey {
	return m.CircuitKey
}

func (m *AddHTLC) records(scid *uint64, keysend *[32]byte) []tlv.Record {
	records := append(
		circuitRecords(&m.CircuitKey),
		channelIDRecord(typeChannelID, scid),
		tlv.MakePrimitiveRecord(typeAmount, &m.Amount),
		chroma.NewRecord(typeChroma, &m.Chroma),
		tlv.MakePrimitiveRecord(typeExpiry, &m.Expiry),
		tlv.MakePrimitiveRecord(typeCarrier, &m.Carrier),
		tlv.MakePrimitiveRecord(typeTotal, &m.TotalAmount),
	)
	if keysend != nil {
		records = append(
			records, tlv.MakePrimitiveRecord(typeKeysend, keysend),
		)
	}

	return records
}

// Encode serializes the message as a TLV stream.
func (m *AddHTLC) Encode(w io.Writer) error {
	scid := m.ChannelID.ToUint64()
	return encodeStream(
		w, m.records(&scid, (*[32]byte)(m.KeysendPreimage))...,
	)
}

// Decode deserializes the message from a TLV stream.
func (m *AddHTLC) Decode(r io.Reader) error {
	var (
		scid    uint64
		keysend [32]byte
	)
	stream, err := tlv.NewStream(m.records(&scid, &keysend)...)
	if err != nil {
		return err
	}

	parsedTypes, err := stream.DecodeWithParsedTypes(r)
	if err != nil {
		return err
	}
	m.ChannelID = lnwire.NewShortChanIDFromInt(scid)

	if _, ok := parsedTypes[typeKeysend]; ok {
		preimage := lntypes.Preimage(keysend)
		m.KeysendPreimage = &preimage
	}

	return nil
}

// CommitmentDigest returns the digest the sender signs to commit to the
// update that adds the HTLC.
func (m *AddHTLC) CommitmentDigest() ([32]byte, error) {
	var b bytes.Buffer
	if err := m.Encode(&b); err != nil {
		return [32]byte{}, fmt.Errorf("unable to encode commitment "+
			"update: %w", err)
	}

	return chainhash.DoubleHashH(b.Bytes()), nil
}

// String returns a human-readable string representation of the message.
func (m *AddHTLC) String() string {
	return fmt.Sprintf("AddHTLC(%v, chan=%v, amt=%d %v, expiry=%d, "+
		"keysend=%v)", m.CircuitKey, m.ChannelID, m.Amount,
		m.Chroma.Short(), m.Expiry, m.KeysendPreimage != nil)
}

// AckHTLC acknowledges an offered HTLC.
type AckHTLC struct {
	CircuitKey
}

// MsgType returns the protocol message type number.
func (m *AckHTLC) MsgType() lnwire.MessageType {
	return MsgTypeAckHTLC
}

// Circuit returns the HTLC the message refers to.
func (m *AckHTLC) Circuit() CircuitKey {
	return m.CircuitKey
}

// Encode serializes the message as a TLV stream.
func (m *AckHTLC) Encode(w io.Writer) error {
	return encodeStream(w, circuitRecords(&m.CircuitKey)...)
}

// Decode deserializes the message from a TLV stream.
func (m *AckHTLC) Decode(r io.Reader) error {
	return decodeStream(r, circuitRecords(&m.CircuitKey)...)
}

// String returns a human-readable string representation of the message.
func (m *AckHTLC) String() string {
	return fmt.Sprintf("AckHTLC(%v)", m.CircuitKey)
}

// CommitHTLC carries the signature over the commitment update that adds an
// acknowledged HTLC.
type CommitHTLC struct {
	CircuitKey

	// Sig is the signature of the sender over the commitment digest.
	Sig []byte
}

// MsgType returns the protocol message type number.
func (m *CommitHTLC) MsgType() lnwire.MessageType {
	return MsgTypeCommitHTLC
}

// Circuit returns the HTLC the message refers to.
func (m *CommitHTLC) Circuit() CircuitKey {
	return m.CircuitKey
}

func (m *CommitHTLC) records() []tlv.Record {
	return append(
		circuitRecords(&m.CircuitKey),
		tlv.MakePrimitiveRecord(typeSig, &m.Sig),
	)
}

// Encode serializes the message as a TLV stream.
func (m *CommitHTLC) Encode(w io.Writer) error {
	return encodeStream(w, m.records()...)
}

// Decode deserializes the message from a TLV stream.
func (m *CommitHTLC) Decode(r io.Reader) error {
	return decodeStream(r, m.records()...)
}

// String returns a human-readable string representation of the message.
func (m *CommitHTLC) String() string {
	return fmt.Sprintf("CommitHTLC(%v, sig=%d bytes)", m.CircuitKey,
		len(m.Sig))
}

// FulfillHTLC settles an HTLC with the payment preimage.
type FulfillHTLC struct {
	CircuitKey

	// Preimage is the payment preimage.
	Preimage lntypes.Preimage
}

// MsgType returns the protocol message type number.
func (m *FulfillHTLC) MsgType() lnwire.MessageType {
	return MsgTypeFulfillHTLC
}

// Circuit returns the HTLC the message refers to.
func (m *FulfillHTLC) Circuit() CircuitKey {
	return m.CircuitKey
}

func (m *FulfillHTLC) records() []tlv.Record {
	return append(
		circuitRecords(&m.CircuitKey),
		tlv.MakePrimitiveRecord(
			typePreimage, (*[32]byte)(&m.Preimage),
		),
	)
}

// Encode serializes the message as a TLV stream.
func (m *FulfillHTLC) Encode(w io.Writer) error {
	return encodeStream(w, m.records()...)
}

// Decode deserializes the message from a TLV stream.
func (m *FulfillHTLC) Decode(r io.Reader) error {
	return decodeStream(r, m.records()...)
}

// String returns a human-readable string representation of the message.
func (m *FulfillHTLC) String() string {
	return fmt.Sprintf("FulfillHTLC(%v)", m.CircuitKey)
}

// FailHTLC fails an HTLC.
type FailHTLC struct {
	CircuitKey

	// Code classifies the failure.
	Code FailCode

	// Reason is a free-form description of the failure.
	Reason []byte
}

// MsgType returns the protocol message type number.
func (m *FailHTLC) MsgType() lnwire.MessageType {
	return MsgTypeFailHTLC
}

// Circuit returns the HTLC the message refers to.
func (m *FailHTLC) Circuit() CircuitKey {
	return m.CircuitKey
}

func (m *FailHTLC) records(code *uint16) []tlv.Record {
	return append(
		circuitRecords(&m.CircuitKey),
		tlv.MakePrimitiveRecord(typeFailCode, code),
		tlv.MakePrimitiveRecord(typeFailReason, &m.Reason),
	)
}

// Encode serializes the message as a TLV stream.
func (m *FailHTLC) Encode(w io.Writer) error {
	code := uint16(m.Code)
	return encodeStream(w, m.records(&code)...)
}

// Decode deserializes the message from a TLV stream.
func (m *FailHTLC) Decode(r io.Reader) error {
	var code uint16
	if err := decodeStream(r, m.records(&code)...); err != nil {
		return err
	}
	m.Code = FailCode(code)

	return nil
}

// String returns a human-readable string representation of the message.
func (m *FailHTLC) String() string {
	return fmt.Sprintf("FailHTLC(%v, code=%v, reason=%q)", m.CircuitKey,
		m.Code, m.Reason)
}

// ToError converts the failure into a HopRejectedError.
func (m *FailHTLC) ToError(node route.Vertex,
	chanID lnwire.ShortChannelID) *HopRejectedError {

	return &HopRejectedError{
		Node:      node,
		ChannelID: chanID,
		Hop:       m.Hop,
		Code:      m.Code,
		Reason:    string(m.Reason),
	}
}
