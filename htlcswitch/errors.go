package htlcswitch

import (
	"fmt"

	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

// FailCode classifies why a hop rejected or failed an HTLC.
type FailCode uint16

const (
	// CodeTemporaryChannelFailure means the outgoing channel of the hop
	// cannot carry the HTLC right now.
	CodeTemporaryChannelFailure FailCode = 1

	// CodeUnknownPaymentHash means the destination has no invoice for
	// the payment hash.
	CodeUnknownPaymentHash FailCode = 2

	// CodeIncorrectAmount means the amount or dimension doesn't match
	// what the hop expected.
	CodeIncorrectAmount FailCode = 3

	// CodeExpiryTooSoon means the expiry leaves the hop not enough
	// blocks.
	CodeExpiryTooSoon FailCode = 4

	// CodeChannelDisabled means the hop disabled the channel.
	CodeChannelDisabled FailCode = 5

	// CodeMppTimeout means the destination gave up waiting for the rest
	// of a multi-path payment.
	CodeMppTimeout FailCode = 6

	// CodeCancelled means the sender cancelled the HTLC.
	CodeCancelled FailCode = 7

	// CodeInvalidCommitment means the commitment signature was rejected.
	CodeInvalidCommitment FailCode = 8
)

// String returns a human readable fail code.
func (c FailCode) String() string {
	switch c {
	case CodeTemporaryChannelFailure:
		return "temporary_channel_failure"
	case CodeUnknownPaymentHash:
		return "unknown_payment_hash"
	case CodeIncorrectAmount:
		return "incorrect_amount"
	case CodeExpiryTooSoon:
		return "expiry_too_soon"
	case CodeChannelDisabled:
		return "channel_disabled"
	case CodeMppTimeout:
		return "mpp_timeout"
	case CodeCancelled:
		return "cancelled"
	case CodeInvalidCommitment:
		return "invalid_commitment"
	default:
		return fmt.Sprintf("code(%d)", uint16(c))
	}
}

// HopRejectedError is returned when a hop refused or failed an HTLC.
type HopRejectedError struct {
	// Node is the node that rejected the HTLC.
	Node route.Vertex

	// ChannelID is the channel of the rejected hop.
	ChannelID lnwire.ShortChannelID

	// Hop is the index of the rejected hop.
	Hop uint16

	// Code classifies the rejection.
	Code FailCode

	// Reason is the free-form message of the hop.
	Reason string
}

// Error implements the error interface.
func (e *HopRejectedError) Error() string {
	return fmt.Sprintf("hop %d (%x, chan %v) rejected htlc: %v: %s",
		e.Hop, e.Node[:4], e.ChannelID, e.Code, e.Reason)
}
