package htlcswitch

import (
	"errors"
	"fmt"
	"sync"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrDoubleResolution is returned when an HTLC that already reached a
	// terminal state is resolved in a conflicting way. It signals a logic
	// defect, not a routing failure.
	ErrDoubleResolution = errors.New("htlc resolved twice")

	// ErrExpiryElapsed is the failure reason of an HTLC whose expiry
	// height was reached before it was fulfilled.
	ErrExpiryElapsed = errors.New("htlc expiry elapsed")

	// ErrInvalidTransition is returned for a transition the current state
	// does not allow, for example fulfilling an HTLC that was never
	// committed.
	ErrInvalidTransition = errors.New("invalid htlc transition")

	// ErrPreimageMismatch is returned when a preimage doesn't hash to the
	// payment hash of the HTLC.
	ErrPreimageMismatch = errors.New("preimage does not match payment " +
		"hash")
)

// State is the state of an HTLC.
type State uint8

const (
	// StateOffered is the state of an HTLC that was offered to the next
	// hop but not acknowledged yet.
	StateOffered State = iota

	// StateCommitted is the state of an HTLC that the next hop
	// acknowledged and that is part of the signed channel state.
	StateCommitted

	// StateFulfilled is the terminal state of an HTLC settled with the
	// payment preimage.
	StateFulfilled

	// StateFailed is the terminal state of an HTLC that was cancelled.
	StateFailed
)

// String returns a human readable state.
func (s State) String() string {
	switch s {
	case StateOffered:
		return "offered"
	case StateCommitted:
		return "committed"
	case StateFulfilled:
		return "fulfilled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// IsTerminal returns true for states no transition leaves.
func (s State) IsTerminal() bool {
	return s == StateFulfilled || s == StateFailed
}

// ShardKey identifies all HTLCs of one shard of a payment.
type ShardKey struct {
	// Hash is the payment hash shared by every shard.
	Hash lntypes.Hash

	// ShardID distinguishes the shards of one payment.
	ShardID uint64
}

// String returns the short form of the key.
func (k ShardKey) String() string {
	return fmt.Sprintf("%x/%d", k.Hash[:4], k.ShardID)
}

// CircuitKey identifies the HTLC of one hop of one shard.
type CircuitKey struct {
	ShardKey

	// Hop is the index of the hop along the shard's path.
	Hop uint16
}

// String returns the short form of the key.
func (k CircuitKey) String() string {
	return fmt.Sprintf("%v/%d", k.ShardKey, k.Hop)
}

// HTLC is the state machine of one hop of one shard.
type HTLC struct {
	// Key identifies the HTLC.
	Key CircuitKey

	// ChannelID is the channel the HTLC is added to.
	ChannelID lnwire.ShortChannelID

	// Amount is the amount locked in the HTLC.
	Amount uint64

	// Chroma is the dimension of the amount.
	Chroma chroma.Chroma

	// Expiry is the block height at which the HTLC times out.
	Expiry uint32

	mu       sync.Mutex
	state    State
	preimage lntypes.Preimage
	failure  error
}

// NewHTLC creates an HTLC in the offered state.
func NewHTLC(key CircuitKey, chanID lnwire.ShortChannelID, amt uint64,
	c chroma.Chroma, expiry uint32) *HTLC {

	return &HTLC{
		Key:       key,
		ChannelID: chanID,
		Amount:    amt,
		Chroma:    c,
		Expiry:    expiry,
		state:     StateOffered,
	}
}

// State returns the current state.
func (h *HTLC) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Preimage returns the preimage of a fulfilled HTLC.
func (h *HTLC) Preimage() (lntypes.Preimage, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.preimage, h.state == StateFulfilled
}

// Failure returns the reason a failed HTLC failed.
func (h *HTLC) Failure() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.failure
}

// Commit moves an offered HTLC to committed once the next hop acknowledged
// it. Committing a committed HTLC again is a no-op.
func (h *HTLC) Commit() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateOffered:
		h.state = StateCommitted
		log.Tracef("HTLC %v committed", h.Key)

		return nil

	case StateCommitted:
		return nil

	default:
		return fmt.Errorf("%w: commit in state %v",
			ErrInvalidTransition, h.state)
	}
}

// Fulfill settles a committed HTLC with the payment preimage. Fulfilling with
// the same preimage again is a no-op. Fulfilling a failed HTLC returns
// ErrDoubleResolution.
func (h *HTLC) Fulfill(preimage lntypes.Preimage) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !preimage.Matches(h.Key.Hash) {
		return ErrPreimageMismatch
	}

	switch h.state {
	case StateCommitted:
		h.state = StateFulfilled
		h.preimage = preimage
		log.Tracef("HTLC %v fulfilled", h.Key)

		return nil

	case StateFulfilled:
		return nil

	case StateFailed:
		return fmt.Errorf("%w: fulfill of %v failed with: %v",
			ErrDoubleResolution, h.Key, h.failure)

	default:
		return fmt.Errorf("%w: fulfill in state %v",
			ErrInvalidTransition, h.state)
	}
}

// Fail cancels an offered or committed HTLC. Failing a failed HTLC again is a
// no-op and keeps the first reason. Failing a fulfilled HTLC returns
// ErrDoubleResolution.
func (h *HTLC) Fail(reason error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case StateOffered, StateCommitted:
		h.state = StateFailed
		h.failure = reason
		log.Tracef("HTLC %v failed: %v", h.Key, reason)

		return nil

	case StateFailed:
		return nil

	default:
		return fmt.Errorf("%w: fail of fulfilled %v: %v",
			ErrDoubleResolution, h.Key, reason)
	}
}

// CheckExpiry fails the HTLC unilaterally if the given height reached its
// expiry before it was resolved. It returns true if the HTLC expired with
// this call.
func (h *HTLC) CheckExpiry(height uint32) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state.IsTerminal() || height < h.Expiry {
		return false
	}

	h.state = StateFailed
	h.failure = fmt.Errorf("%w: height %d, expiry %d", ErrExpiryElapsed,
		height, h.Expiry)

	log.Debugf("HTLC %v expired at height %d", h.Key, height)

	return true
}
