package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/chroma"
	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/graph"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/akitamiabtc/yuvln/ledger"
	"github.com/akitamiabtc/yuvln/pathfind"
	"github.com/akitamiabtc/yuvln/splitter"
	goerrors "github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
)

const (
	// DefaultMaxPaths is the default number of candidate paths requested
	// per round.
	DefaultMaxPaths = 8

	// DefaultMaxRetryRounds is the default number of rounds made for the
	// shortfall of failed shards after the first round.
	DefaultMaxRetryRounds = 3

	// DefaultFinalExpiryDelta is the default expiry delta granted to the
	// destination.
	DefaultFinalExpiryDelta = 40

	// DefaultTimeout is the default timeout of every interaction with a
	// collaborator.
	DefaultTimeout = 30 * time.Second
)

// ErrPaymentSettled is returned when cancelling a payment whose preimage was
// already revealed.
var ErrPaymentSettled = errors.New("payment preimage already revealed")

// Config holds the collaborators and tunables of the coordinator.
type Config struct {
	// Self is the node sending payments.
	Self route.Vertex

	// Ledger owns every channel balance.
	Ledger *ledger.Ledger

	// Topology provides the snapshots paths are searched on.
	Topology *graph.View

	// Mailbox is used to exchange HTLC messages with the hops.
	Mailbox *htlcswitch.Mailbox

	// Chain provides block heights.
	Chain ChainBridge

	// Signer signs the commitment update of every hop.
	Signer Signer

	// Store persists payments. It may be nil.
	Store Store

	// Decoder decodes payment requests. It is only needed by
	// PayInvoice.
	Decoder InvoiceDecoder

	// MaxPaths bounds the candidate paths requested per round.
	MaxPaths int

	// MinShardFloor is the smallest shard the splitter creates.
	MinShardFloor uint64

	// MaxRetryRounds is the number of rounds made for the shortfall of
	// failed shards after the first round.
	MaxRetryRounds int

	// FinalExpiryDelta is the expiry delta granted to the destination.
	FinalExpiryDelta uint32

	// HtlcCarrierMsat is the base currency amount locked on every hop
	// of an asset shard.
	HtlcCarrierMsat uint64

	// RiskFactor converts blocks of expiry delta into path weight.
	RiskFactor uint64

	// DefaultTimeout bounds every interaction with a collaborator.
	DefaultTimeout time.Duration
}

// Coordinator drives payment attempts. Every attempt is coordinated by the
// goroutine calling Execute, every shard runs in its own goroutine.
type Coordinator struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *Config

	mu       sync.Mutex
	active   map[lntypes.Hash]*Attempt
	payments map[lntypes.Hash]*Payment

	*fn.ContextGuard
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg *Config) *Coordinator {
	if cfg.MaxPaths == 0 {
		cfg.MaxPaths = DefaultMaxPaths
	}
	if cfg.FinalExpiryDelta == 0 {
		cfg.FinalExpiryDelta = DefaultFinalExpiryDelta
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}

	return &Coordinator{
		cfg:      cfg,
		active:   make(map[lntypes.Hash]*Attempt),
		payments: make(map[lntypes.Hash]*Payment),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: cfg.DefaultTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start loads the stored payments and starts listening for late
// fulfillments. Payments that were pending when the node stopped are marked
// failed, since no HTLC survives a restart.
func (c *Coordinator) Start() error {
	var startErr error
	c.startOnce.Do(func() {
		log.Info("Starting payment coordinator")

		if err := c.loadPayments(); err != nil {
			startErr = err
			return
		}

		c.cfg.Mailbox.RegisterHandler(
			htlcswitch.MsgTypeFulfillHTLC, c.handleLateFulfill,
		)
	})

	return startErr
}

// Stop cancels every active attempt and waits for them to roll back.
func (c *Coordinator) Stop() error {
	c.stopOnce.Do(func() {
		log.Info("Stopping payment coordinator")

		close(c.Quit)
		c.Wg.Wait()
	})

	return nil
}

func (c *Coordinator) loadPayments() error {
	if c.cfg.Store == nil {
		return nil
	}

	ctx, cancel := c.WithCtxQuit()
	defer cancel()

	payments, err := c.cfg.Store.FetchPayments(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch payments: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range payments {
		if p.Status == StatusPending {
			log.Warnf("Marking payment %v interrupted by restart "+
				"as failed", p.Hash)

			p.Status = StatusFailed
			if p.Fulfilled > 0 {
				p.Status = StatusPartial
			}
			p.ResolvedAt = time.Now()

			if err := c.cfg.Store.UpdatePayment(ctx, p); err != nil {
				return fmt.Errorf("unable to update payment "+
					"%v: %w", p.Hash, err)
			}
		}

		c.payments[p.Hash] = p
	}

	log.Infof("Loaded %d payments", len(payments))

	return nil
}

// SendPayment pays the given amount of the given dimension to the
// destination.
func (c *Coordinator) SendPayment(ctx context.Context,
	req Request) (*Outcome, error) {

	return c.Execute(ctx, NewAttempt(req))
}

// Keysend pays the destination without an invoice. The preimage is chosen
// here and travels to the destination with the final hop of every shard.
func (c *Coordinator) Keysend(ctx context.Context, dest route.Vertex,
	amount uint64, tag chroma.Chroma, deadline time.Time) (*Outcome,
	error) {

	var preimage lntypes.Preimage
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, fmt.Errorf("unable to generate preimage: %w", err)
	}

	return c.SendPayment(ctx, Request{
		Dest:            dest,
		Amount:          amount,
		Chroma:          tag,
		Hash:            preimage.Hash(),
		KeysendPreimage: &preimage,
		Deadline:        deadline,
	})
}

// PayInvoice decodes the payment request and pays it.
func (c *Coordinator) PayInvoice(ctx context.Context, payReq string,
	pixel *chroma.Pixel, deadline time.Time) (*Outcome, error) {

	if c.cfg.Decoder == nil {
		return nil, fmt.Errorf("%w: no invoice decoder", ErrInvalidPayment)
	}

	inv, err := c.cfg.Decoder.DecodeInvoice(ctx, payReq, pixel)
	if err != nil {
		return nil, fmt.Errorf("unable to decode invoice: %w", err)
	}

	if !inv.Expiry.IsZero() && time.Now().After(inv.Expiry) {
		return nil, fmt.Errorf("%w: invoice expired at %v",
			ErrInvalidPayment, inv.Expiry)
	}

	return c.SendPayment(ctx, Request{
		Dest:     inv.Dest,
		Amount:   inv.Amount,
		Chroma:   inv.Chroma,
		Hash:     inv.Hash,
		Deadline: deadline,
	})
}

// Execute drives the attempt to a terminal outcome. Cancelling ctx cancels
// the attempt until a preimage was revealed. An error is only returned if the
// attempt could not be started or an HTLC was resolved twice; in the latter
// case the outcome is returned as well.
func (c *Coordinator) Execute(ctx context.Context,
	attempt *Attempt) (*Outcome, error) {

	if err := c.validate(&attempt.Request); err != nil {
		return nil, err
	}

	record, err := c.register(attempt)
	if err != nil {
		return nil, err
	}
	defer c.unregister(attempt)

	if !attempt.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, attempt.Deadline)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)

	c.Wg.Add(1)
	go func() {
		defer c.Wg.Done()

		select {
		case <-ctx.Done():
			attempt.Cancel(fmt.Errorf("%w: %v", ErrPaymentCancelled,
				ctx.Err()))

		case <-c.Quit:
			attempt.Cancel(ErrCoordinatorShuttingDown)

		case <-done:
		}
	}()

	log.Infof("Sending payment %v: %d of %v to %x", attempt.Hash,
		attempt.Amount, attempt.Chroma.Short(), attempt.Dest[:4])

	outcome := c.run(attempt, record)

	c.finalize(record, outcome)

	log.Infof("Payment %v finished: %v", attempt.Hash, outcome)

	if violation := attempt.violation(); violation != nil {
		log.Criticalf("Payment %v: %v",
			attempt.Hash, goerrors.Wrap(violation, 0).ErrorStack())

		return outcome, fmt.Errorf("payment %v: %w", attempt.Hash,
			violation)
	}

	return outcome, nil
}

// CancelPayment cancels an active payment. Cancellation is refused once the
// preimage was revealed.
func (c *Coordinator) CancelPayment(hash lntypes.Hash) error {
	c.mu.Lock()
	attempt, ok := c.active[hash]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %v", ErrPaymentNotFound, hash)
	}

	if !attempt.Cancel(ErrPaymentCancelled) {
		return fmt.Errorf("%w: %v", ErrPaymentSettled, hash)
	}

	log.Infof("Payment %v cancelled", hash)

	return nil
}

// ListPayments returns every known payment, newest first.
func (c *Coordinator) ListPayments() []*Payment {
	c.mu.Lock()
	defer c.mu.Unlock()

	payments := make([]*Payment, 0, len(c.payments))
	for _, p := range c.payments {
		payments = append(payments, p.copy())
	}

	sort.Slice(payments, func(i, j int) bool {
		return payments[i].CreatedAt.After(payments[j].CreatedAt)
	})

	return payments
}

func (c *Coordinator) validate(req *Request) error {
	switch {
	case req.Amount == 0:
		return fmt.Errorf("%w: zero amount", ErrInvalidPayment)

	case req.Dest == c.cfg.Self:
		return fmt.Errorf("%w: cannot pay ourselves", ErrInvalidPayment)

	case req.Hash == lntypes.ZeroHash:
		return fmt.Errorf("%w: missing payment hash", ErrInvalidPayment)

	case req.KeysendPreimage != nil &&
		!req.KeysendPreimage.Matches(req.Hash):

		return fmt.Errorf("%w: keysend preimage doesn't match hash",
			ErrInvalidPayment)
	}

	return nil
}

// register marks the attempt active and stores its payment record.
func (c *Coordinator) register(attempt *Attempt) (*Payment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.active[attempt.Hash]; ok {
		return nil, fmt.Errorf("%w: %v", ErrPaymentInFlight,
			attempt.Hash)
	}

	if p, ok := c.payments[attempt.Hash]; ok &&
		p.Status == StatusSucceeded {

		return nil, fmt.Errorf("%w: %v", ErrAlreadyPaid, attempt.Hash)
	}

	record := &Payment{
		Hash:      attempt.Hash,
		Dest:      attempt.Dest,
		Amount:    attempt.Amount,
		Chroma:    attempt.Chroma,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if c.cfg.Store != nil {
		ctx, cancel := c.WithCtxQuit()
		defer cancel()

		if err := c.cfg.Store.InsertPayment(ctx, record); err != nil {
			return nil, fmt.Errorf("unable to store payment: %w",
				err)
		}
	}

	c.active[attempt.Hash] = attempt
	c.payments[attempt.Hash] = record

	return record, nil
}

func (c *Coordinator) unregister(attempt *Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.active, attempt.Hash)
}

// run sends shards until the amount is delivered, the retries are exhausted
// or the attempt is cancelled. Whenever a shard fails, a new round is planned
// for the part of the amount that is neither delivered nor in flight, with
// the channels that failed so far excluded.
func (c *Coordinator) run(attempt *Attempt, record *Payment) *Outcome {
	var (
		outcome   = &Outcome{}
		results   = make(chan *shardRunner)
		exclude   = fn.NewSet[lnwire.ShortChannelID]()
		round     int
		fulfilled uint64
		inFlight  uint64
		pending   int
		lastErr   error
	)

	launch := func(amount uint64) {
		shards, err := c.plan(attempt, amount, exclude)
		if err != nil {
			log.Infof("Payment %v round %d: %v", attempt.Hash,
				round, err)

			lastErr = err
			return
		}

		log.Debugf("Payment %v round %d: sending %d in %d shards",
			attempt.Hash, round, amount, len(shards))

		for _, r := range c.launch(attempt, record, round, shards) {
			outcome.Shards = append(outcome.Shards, r.result)
			outcome.Paths = append(outcome.Paths, r.shard.Path)

			inFlight += r.shard.Amount
			pending++

			r := r
			c.Wg.Add(1)
			go func() {
				defer c.Wg.Done()

				r.run()
				results <- r
			}()
		}
	}

	launch(attempt.Amount)

	for pending > 0 {
		r := <-results
		pending--
		inFlight -= r.shard.Amount

		c.persistShard(attempt.Hash, r.result)

		if r.result.Status == ShardFulfilled {
			fulfilled += r.shard.Amount
			continue
		}

		lastErr = r.result.Failure
		if r.blame != nil {
			exclude.Add(*r.blame)
		}

		if err := attempt.Cancelled(); err != nil {
			continue
		}
		if attempt.violation() != nil || round >= c.cfg.MaxRetryRounds {
			continue
		}

		shortfall := attempt.Amount - fulfilled - inFlight
		if shortfall == 0 {
			continue
		}

		round++
		log.Debugf("Payment %v: retrying %d in round %d, excluding "+
			"%d channels", attempt.Hash, shortfall, round,
			len(exclude))

		launch(shortfall)
	}

	outcome.Fulfilled = fulfilled
	outcome.Shortfall = attempt.Amount - fulfilled
	if preimage, ok := attempt.Preimage(); ok {
		outcome.Preimage = preimage
	}

	switch {
	case fulfilled == attempt.Amount:
		outcome.Kind = OutcomeSuccess

	case fulfilled > 0:
		outcome.Kind = OutcomePartialFailure
		outcome.Reason = lastErr

	default:
		outcome.Kind = OutcomeTotalFailure
		outcome.Reason = lastErr
	}

	return outcome
}

// plan finds paths on a fresh snapshot and splits the amount across them.
func (c *Coordinator) plan(attempt *Attempt, amount uint64,
	exclude fn.Set[lnwire.ShortChannelID]) ([]*splitter.Shard, error) {

	g := c.cfg.Topology.Snapshot(attempt.Chroma)

	paths, err := pathfind.FindPaths(g, &pathfind.Request{
		Source:     c.cfg.Self,
		Dest:       attempt.Dest,
		Chroma:     attempt.Chroma,
		Amount:     amount,
		MaxPaths:   c.cfg.MaxPaths,
		Carrier:    c.carrier(attempt.Chroma),
		RiskFactor: c.cfg.RiskFactor,
		Exclude:    exclude,
	})
	if err != nil {
		return nil, err
	}

	return splitter.Split(amount, paths, c.cfg.MinShardFloor)
}

// launch creates a runner for every shard and records it with the payment.
func (c *Coordinator) launch(attempt *Attempt, record *Payment, round int,
	shards []*splitter.Shard) []*shardRunner {

	runners := make([]*shardRunner, 0, len(shards))
	for _, shard := range shards {
		r := newShardRunner(c, attempt, shard, round)
		runners = append(runners, r)

		c.mu.Lock()
		record.Shards = append(record.Shards, r.result)
		c.mu.Unlock()

		c.persistShard(attempt.Hash, r.result)
	}

	return runners
}

// finalize records the outcome in the payment record.
func (c *Coordinator) finalize(record *Payment, outcome *Outcome) {
	c.mu.Lock()
	switch outcome.Kind {
	case OutcomeSuccess:
		record.Status = StatusSucceeded
	case OutcomePartialFailure:
		record.Status = StatusPartial
	default:
		record.Status = StatusFailed
	}
	if outcome.Kind != OutcomeTotalFailure {
		preimage := outcome.Preimage
		record.Preimage = &preimage
	}
	record.Fulfilled = outcome.Fulfilled
	record.ResolvedAt = time.Now()
	update := record.copy()
	c.mu.Unlock()

	if c.cfg.Store == nil {
		return
	}

	ctx, cancel := c.WithCtxQuit()
	defer cancel()

	if err := c.cfg.Store.UpdatePayment(ctx, update); err != nil {
		log.Errorf("Unable to store result of payment %v: %v",
			record.Hash, err)
	}
}

func (c *Coordinator) persistShard(hash lntypes.Hash, result *ShardResult) {
	if c.cfg.Store == nil {
		return
	}

	c.mu.Lock()
	shard := *result
	c.mu.Unlock()

	ctx, cancel := c.WithCtxQuit()
	defer cancel()

	if err := c.cfg.Store.UpsertShard(ctx, hash, &shard); err != nil {
		log.Errorf("Unable to store shard %d of payment %v: %v",
			shard.ShardID, hash, err)
	}
}

// carrier returns the carrier amount locked on every hop of a shard of the
// given dimension.
func (c *Coordinator) carrier(tag chroma.Chroma) uint64 {
	if tag.IsNone() {
		return 0
	}

	return c.cfg.HtlcCarrierMsat
}

// handleLateFulfill processes a fulfillment that arrived after its shard
// stopped waiting for it. A fulfillment of an HTLC that was already failed is
// an invariant violation of the destination and fails the attempt.
func (c *Coordinator) handleLateFulfill(msg htlcswitch.PeerMessage) {
	fulfill, ok := msg.Msg.(*htlcswitch.FulfillHTLC)
	if !ok {
		return
	}

	c.mu.Lock()
	attempt, ok := c.active[fulfill.Hash]
	c.mu.Unlock()

	if !ok {
		log.Debugf("Ignoring %v from %x for inactive payment",
			fulfill, msg.Peer[:4])
		return
	}

	attempt.lateFulfill(msg.Peer, fulfill)
}

// copy returns a copy of the payment whose shard list can be used without
// holding the coordinator lock.
func (p *Payment) copy() *Payment {
	cp := *p
	cp.Shards = make([]*ShardResult, 0, len(p.Shards))
	for _, s := range p.Shards {
		shard := *s
		cp.Shards = append(cp.Shards, &shard)
	}

	return &cp
}
