package payments

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/pathfind"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

var (
	// ErrPaymentCancelled is the failure reason of shards rolled back
	// because the payment was cancelled before the preimage was revealed.
	ErrPaymentCancelled = errors.New("payment cancelled")

	// ErrPaymentInFlight is returned when a payment hash is already being
	// paid.
	ErrPaymentInFlight = errors.New("payment already in flight")

	// ErrAlreadyPaid is returned when a payment hash was already paid.
	ErrAlreadyPaid = errors.New("payment already succeeded")

	// ErrInvalidPayment is returned for malformed payment requests.
	ErrInvalidPayment = errors.New("invalid payment request")

	// ErrPaymentNotFound is returned when cancelling an unknown payment.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrCoordinatorShuttingDown is the failure reason of shards that were
	// interrupted by a shutdown.
	ErrCoordinatorShuttingDown = errors.New("coordinator shutting down")

	// errBlockSubscriptionClosed fails shards whose block subscription
	// ended, their expiry could no longer be watched.
	errBlockSubscriptionClosed = errors.New("block subscription closed")
)

// Status is the status of an outgoing payment.
type Status uint8

const (
	// StatusPending is the status of a payment in flight.
	StatusPending Status = iota

	// StatusSucceeded is the status of a fully paid payment.
	StatusSucceeded

	// StatusPartial is the status of a payment of which only a part was
	// delivered.
	StatusPartial

	// StatusFailed is the status of a payment of which nothing was
	// delivered.
	StatusFailed
)

// String returns a human readable status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusSucceeded:
		return "succeeded"
	case StatusPartial:
		return "partial"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ShardStatus is the status of one shard attempt.
type ShardStatus uint8

const (
	// ShardInFlight is the status of a shard whose HTLCs are not resolved
	// yet.
	ShardInFlight ShardStatus = iota

	// ShardFulfilled is the status of a shard settled on every hop.
	ShardFulfilled

	// ShardFailed is the status of a shard rolled back on every hop.
	ShardFailed
)

// String returns a human readable shard status.
func (s ShardStatus) String() string {
	switch s {
	case ShardInFlight:
		return "in_flight"
	case ShardFulfilled:
		return "fulfilled"
	case ShardFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Request is a payment to make.
type Request struct {
	// Dest is the node to pay.
	Dest route.Vertex

	// Amount is the amount to deliver, denominated in Chroma.
	Amount uint64

	// Chroma is the dimension of the payment.
	Chroma chroma.Chroma

	// Hash is the payment hash shared by every shard.
	Hash lntypes.Hash

	// KeysendPreimage is the preimage of Hash for a spontaneous payment.
	// It is handed to the destination in the final hop of every shard.
	KeysendPreimage *lntypes.Preimage

	// Deadline bounds the whole payment. The zero value means no
	// deadline.
	Deadline time.Time
}

// ShardResult describes one shard attempt.
type ShardResult struct {
	// ShardID identifies the shard within its payment.
	ShardID uint64

	// Round is the retry round the shard was sent in, starting at zero.
	Round int

	// Path is the path the shard was routed over. It is nil for shards
	// loaded from the store.
	Path *pathfind.Path

	// Route lists the channels of the path.
	Route []lnwire.ShortChannelID

	// Amount is the amount the shard carried.
	Amount uint64

	// Status is the status of the shard.
	Status ShardStatus

	// Failure is the reason a failed shard failed.
	Failure error
}

// String returns a short description of the shard.
func (s *ShardResult) String() string {
	return fmt.Sprintf("shard %d (round %d, amt=%d, route=%v): %v",
		s.ShardID, s.Round, s.Amount, s.Route, s.Status)
}

// Payment is the record of an outgoing payment.
type Payment struct {
	// Hash is the payment hash.
	Hash lntypes.Hash

	// Dest is the paid node.
	Dest route.Vertex

	// Amount is the requested amount.
	Amount uint64

	// Chroma is the dimension of the payment.
	Chroma chroma.Chroma

	// Status is the status of the payment.
	Status Status

	// Preimage is the revealed preimage. It is only set once at least
	// one shard was fulfilled.
	Preimage *lntypes.Preimage

	// Fulfilled is the amount delivered so far.
	Fulfilled uint64

	// CreatedAt is the time the payment was started.
	CreatedAt time.Time

	// ResolvedAt is the time the payment reached its final status.
	ResolvedAt time.Time

	// Shards are the shard attempts of the payment.
	Shards []*ShardResult
}

// OutcomeKind classifies the result of a payment attempt.
type OutcomeKind uint8

const (
	// OutcomeSuccess means the full amount was delivered.
	OutcomeSuccess OutcomeKind = iota

	// OutcomePartialFailure means some shards were fulfilled but the
	// retries could not deliver the rest.
	OutcomePartialFailure

	// OutcomeTotalFailure means no shard was fulfilled.
	OutcomeTotalFailure
)

// String returns a human readable outcome kind.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomePartialFailure:
		return "partial_failure"
	case OutcomeTotalFailure:
		return "total_failure"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Outcome is the user visible result of a payment attempt.
type Outcome struct {
	// Kind classifies the outcome.
	Kind OutcomeKind

	// Preimage proves the payment. It is set unless Kind is
	// OutcomeTotalFailure.
	Preimage lntypes.Preimage

	// Fulfilled is the delivered amount.
	Fulfilled uint64

	// Shortfall is the amount that could not be delivered.
	Shortfall uint64

	// Reason is the last error that stopped the attempt. It is nil on
	// success.
	Reason error

	// Shards lists every shard attempt in the order they were made.
	Shards []*ShardResult

	// Paths lists every path that was attempted.
	Paths []*pathfind.Path
}

// String returns a short description of the outcome.
func (o *Outcome) String() string {
	return fmt.Sprintf("%v: fulfilled=%d shortfall=%d shards=%d "+
		"reason=%v", o.Kind, o.Fulfilled, o.Shortfall, len(o.Shards),
		o.Reason)
}

// Attempt is an in-flight payment. It can be cancelled until the first
// preimage was revealed.
type Attempt struct {
	Request

	mu        sync.Mutex
	quit      chan struct{}
	cancelErr error
	revealed  bool
	preimage  lntypes.Preimage
	nextShard uint64

	// failed tracks the HTLCs of rolled back shards, so a fulfillment
	// arriving later is recognized.
	failed       map[htlcswitch.CircuitKey]*failedHTLC
	violationErr error
}

// failedHTLC is an HTLC of a rolled back shard.
type failedHTLC struct {
	htlc *htlcswitch.HTLC
	peer route.Vertex
}

// NewAttempt creates an attempt for the given request.
func NewAttempt(req Request) *Attempt {
	return &Attempt{
		Request: req,
		quit:    make(chan struct{}),
		failed:  make(map[htlcswitch.CircuitKey]*failedHTLC),
	}
}

// Cancel cancels the attempt. It returns false if the preimage was already
// revealed, in which case the payment is settled and can't be cancelled.
func (a *Attempt) Cancel(reason error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.revealed {
		return false
	}

	if a.cancelErr == nil {
		a.cancelErr = reason
		close(a.quit)
	}

	return true
}

// Cancelled returns the cancellation reason, or nil.
func (a *Attempt) Cancelled() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.cancelErr
}

// Done returns a channel that is closed when the attempt is cancelled.
func (a *Attempt) Done() <-chan struct{} {
	return a.quit
}

// Preimage returns the revealed preimage.
func (a *Attempt) Preimage() (lntypes.Preimage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.preimage, a.revealed
}

// reveal records the preimage. From now on the attempt can't be cancelled
// anymore.
func (a *Attempt) reveal(preimage lntypes.Preimage) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.revealed = true
	a.preimage = preimage
}

// trackFailed remembers an HTLC that is being rolled back together with the
// node that received it.
func (a *Attempt) trackFailed(h *htlcswitch.HTLC, peer route.Vertex) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failed[h.Key] = &failedHTLC{htlc: h, peer: peer}
}

// lateFulfill applies a fulfillment of a rolled back HTLC.
func (a *Attempt) lateFulfill(peer route.Vertex,
	msg *htlcswitch.FulfillHTLC) {

	a.mu.Lock()
	tracked, ok := a.failed[msg.CircuitKey]
	a.mu.Unlock()

	switch {
	case !ok:
		log.Debugf("Ignoring %v for unknown HTLC", msg)
		return

	case tracked.peer != peer:
		log.Warnf("Ignoring %v from %x, HTLC was offered to %x", msg,
			peer[:4], tracked.peer[:4])
		return
	}

	err := tracked.htlc.Fulfill(msg.Preimage)
	switch {
	case errors.Is(err, htlcswitch.ErrPreimageMismatch):
		log.Warnf("Ignoring %v from %x: %v", msg, peer[:4], err)
		return

	case err != nil:
		a.recordViolation(err)
	}

	a.reveal(msg.Preimage)
}

// recordViolation records an invariant violation. Only the first one is
// kept.
func (a *Attempt) recordViolation(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	log.Errorf("Payment %v: %v", a.Hash, err)

	if a.violationErr == nil {
		a.violationErr = err
	}
}

// violation returns the first recorded invariant violation.
func (a *Attempt) violation() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.violationErr
}

// newShardID returns the next shard ID of the attempt. Shard IDs are never
// reused across retry rounds.
func (a *Attempt) newShardID() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextShard
	a.nextShard++

	return id
}
