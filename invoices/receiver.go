package invoices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/akitamiabtc/yuvln/fn"
	"github.com/akitamiabtc/yuvln/htlcswitch"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/routing/route"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultMppTimeout is how long an incomplete set of shards is held
	// before it is failed back.
	DefaultMppTimeout = 2 * time.Minute

	// DefaultMinFinalExpiryDelta is the minimum number of blocks between
	// the current height and the expiry of an accepted HTLC.
	DefaultMinFinalExpiryDelta = 18

	// inboxSize is the buffer of the receiver's inbox.
	inboxSize = 64
)

// CommitmentVerifier checks the commitment signature of an offered HTLC.
type CommitmentVerifier interface {
	// VerifyCommitment returns an error if sig isn't a valid signature
	// of the given node over digest.
	VerifyCommitment(ctx context.Context, node route.Vertex,
		digest [32]byte, sig []byte) error
}

// ReceiverConfig holds the collaborators of the receiver.
type ReceiverConfig struct {
	// Registry holds the invoices HTLCs are matched against.
	Registry *Registry

	// Mailbox exchanges the protocol messages with the senders.
	Mailbox *htlcswitch.Mailbox

	// Chain is used to check the expiry of offered HTLCs.
	Chain ChainBridge

	// Verifier checks commitment signatures. Signatures are only checked
	// to be present if it is nil.
	Verifier CommitmentVerifier

	// MinFinalExpiryDelta is the minimum expiry delta of accepted HTLCs.
	MinFinalExpiryDelta uint32

	// MppTimeout is how long an incomplete set of shards is held.
	MppTimeout time.Duration

	// TimeoutTicker drives the checks of held sets.
	TimeoutTicker ticker.Ticker

	// Clock is the time source of the receiver.
	Clock clock.Clock

	// Relay makes the receiver acknowledge HTLCs it has no invoice for,
	// so that the node can serve as an intermediate hop.
	Relay bool
}

// heldHTLC is an HTLC offered to us as the final hop.
type heldHTLC struct {
	peer      route.Vertex
	add       *htlcswitch.AddHTLC
	offeredAt time.Time
}

// htlcSet is the set of committed shards of one payment.
type htlcSet struct {
	firstSeen time.Time
	htlcs     map[htlcswitch.CircuitKey]*heldHTLC
	amount    uint64
}

// Receiver settles invoices with the HTLCs offered to us as final hop. The
// shards of a payment are held until their sum reaches the invoice amount,
// then the preimage is revealed for all of them at once.
type Receiver struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *ReceiverConfig

	inbox chan htlcswitch.PeerMessage

	// The following fields are only accessed by the event loop.
	offered map[htlcswitch.CircuitKey]*heldHTLC
	sets    map[lntypes.Hash]*htlcSet

	*fn.ContextGuard
}

// NewReceiver creates a new receiver.
func NewReceiver(cfg *ReceiverConfig) *Receiver {
	if cfg.MinFinalExpiryDelta == 0 {
		cfg.MinFinalExpiryDelta = DefaultMinFinalExpiryDelta
	}
	if cfg.MppTimeout == 0 {
		cfg.MppTimeout = DefaultMppTimeout
	}
	if cfg.TimeoutTicker == nil {
		cfg.TimeoutTicker = ticker.New(cfg.MppTimeout / 4)
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Receiver{
		cfg:     cfg,
		inbox:   make(chan htlcswitch.PeerMessage, inboxSize),
		offered: make(map[htlcswitch.CircuitKey]*heldHTLC),
		sets:    make(map[lntypes.Hash]*htlcSet),
		ContextGuard: &fn.ContextGuard{
			DefaultTimeout: DefaultTimeout,
			Quit:           make(chan struct{}),
		},
	}
}

// Start registers the receiver with the mailbox and starts the event loop.
func (r *Receiver) Start() error {
	r.startOnce.Do(func() {
		log.Info("Starting invoice receiver")

		for _, msgType := range []lnwire.MessageType{
			htlcswitch.MsgTypeAddHTLC,
			htlcswitch.MsgTypeCommitHTLC,
			htlcswitch.MsgTypeFailHTLC,
		} {

			r.cfg.Mailbox.RegisterHandler(msgType, r.enqueue)
		}

		r.cfg.TimeoutTicker.Resume()

		r.Wg.Add(1)
		go r.mainEventLoop()
	})

	return nil
}

// Stop stops the event loop.
func (r *Receiver) Stop() error {
	r.stopOnce.Do(func() {
		log.Info("Stopping invoice receiver")

		close(r.Quit)
		r.Wg.Wait()
		r.cfg.TimeoutTicker.Stop()
	})

	return nil
}

// enqueue hands a message from the mailbox to the event loop.
func (r *Receiver) enqueue(msg htlcswitch.PeerMessage) {
	if !fn.SendOrQuit(r.inbox, msg, r.Quit) {
		log.Debugf("Receiver shutting down, dropped %v", msg.Msg)
	}
}

// mainEventLoop executes the main event handling loop.
func (r *Receiver) mainEventLoop() {
	defer r.Wg.Done()

	for {
		select {
		case msg := <-r.inbox:
			var err error
			switch m := msg.Msg.(type) {
			case *htlcswitch.AddHTLC:
				err = r.handleAdd(msg.Peer, m)

			case *htlcswitch.CommitHTLC:
				err = r.handleCommit(msg.Peer, m)

			case *htlcswitch.FailHTLC:
				r.handleFail(msg.Peer, m)
			}
			if err != nil {
				log.Errorf("Unable to handle %v from %x: %v",
					msg.Msg, msg.Peer[:4], err)
			}

		case <-r.cfg.TimeoutTicker.Ticks():
			r.expireSets(r.cfg.Clock.Now())

		case <-r.Quit:
			return
		}
	}
}

// handleAdd accepts or rejects an offered HTLC.
func (r *Receiver) handleAdd(peer route.Vertex,
	add *htlcswitch.AddHTLC) error {

	if _, ok := r.offered[add.CircuitKey]; ok {
		log.Debugf("Ignoring repeated %v", add)
		return nil
	}

	inv, err := r.cfg.Registry.LookupInvoice(add.Hash)
	switch {
	case errors.Is(err, ErrInvoiceNotFound) && add.KeysendPreimage != nil:
		inv, err = r.acceptKeysend(add)
		if err != nil {
			log.Warnf("Rejecting keysend %v from %x: %v", add,
				peer[:4], err)

			return r.reject(
				peer, add.CircuitKey,
				htlcswitch.CodeUnknownPaymentHash, err.Error(),
			)
		}

	case errors.Is(err, ErrInvoiceNotFound) && r.cfg.Relay:
		log.Debugf("Relaying %v from %x", add, peer[:4])

		return r.send(peer, &htlcswitch.AckHTLC{
			CircuitKey: add.CircuitKey,
		})

	case err != nil:
		return r.reject(
			peer, add.CircuitKey, htlcswitch.CodeUnknownPaymentHash,
			"no invoice",
		)
	}

	if code, reason := r.validate(inv, add); code != 0 {
		return r.reject(peer, add.CircuitKey, code, reason)
	}

	r.offered[add.CircuitKey] = &heldHTLC{
		peer:      peer,
		add:       add,
		offeredAt: r.cfg.Clock.Now(),
	}

	return r.send(peer, &htlcswitch.AckHTLC{CircuitKey: add.CircuitKey})
}

// acceptKeysend creates the invoice of a spontaneous payment from the
// preimage the sender put into the final hop. Later shards of the same
// payment find that invoice.
func (r *Receiver) acceptKeysend(add *htlcswitch.AddHTLC) (*Invoice, error) {
	if !add.KeysendPreimage.Matches(add.Hash) {
		return nil, errors.New("keysend preimage doesn't match payment " +
			"hash")
	}

	total := add.TotalAmount
	if total == 0 {
		total = add.Amount
	}

	ctx, cancel := r.WithCtxQuit()
	defer cancel()

	inv, err := r.cfg.Registry.addKeysend(
		ctx, *add.KeysendPreimage, total, add.Chroma,
	)
	if err != nil {
		return nil, err
	}

	log.Infof("Accepting keysend of %d %v as %v", total,
		add.Chroma.Short(), inv.Hash)

	return inv, nil
}

// validate checks an offered HTLC against its invoice. It returns a zero
// code if the HTLC can be accepted.
func (r *Receiver) validate(inv *Invoice,
	add *htlcswitch.AddHTLC) (htlcswitch.FailCode, string) {

	switch {
	case inv.State != StateOpen:
		return htlcswitch.CodeUnknownPaymentHash,
			fmt.Sprintf("invoice %v", inv.State)

	case inv.Expired(r.cfg.Clock.Now()):
		return htlcswitch.CodeUnknownPaymentHash, "invoice expired"

	case add.Chroma != inv.Chroma:
		return htlcswitch.CodeIncorrectAmount,
			fmt.Sprintf("invoice is in %v", inv.Chroma.Short())

	case add.Amount == 0:
		return htlcswitch.CodeIncorrectAmount, "zero amount"

	case add.TotalAmount != 0 && add.TotalAmount < inv.Amount:
		return htlcswitch.CodeIncorrectAmount,
			fmt.Sprintf("total %d below invoice amount %d",
				add.TotalAmount, inv.Amount)
	}

	ctx, cancel := r.WithCtxQuit()
	defer cancel()

	height, err := r.cfg.Chain.CurrentHeight(ctx)
	if err != nil {
		log.Errorf("Unable to fetch height: %v", err)
		return htlcswitch.CodeTemporaryChannelFailure, "chain unavailable"
	}

	if add.Expiry < height+r.cfg.MinFinalExpiryDelta {
		return htlcswitch.CodeExpiryTooSoon,
			fmt.Sprintf("expiry %d, height %d", add.Expiry, height)
	}

	return 0, ""
}

// handleCommit adds a committed HTLC to the set of its payment and settles
// the invoice once the set is complete.
func (r *Receiver) handleCommit(peer route.Vertex,
	commit *htlcswitch.CommitHTLC) error {

	held, ok := r.offered[commit.CircuitKey]
	if !ok || held.peer != peer {
		log.Tracef("Ignoring %v from %x", commit, peer[:4])
		return nil
	}
	delete(r.offered, commit.CircuitKey)

	if err := r.verify(peer, held.add, commit.Sig); err != nil {
		log.Warnf("Rejecting %v: %v", commit, err)

		return r.reject(
			peer, commit.CircuitKey,
			htlcswitch.CodeInvalidCommitment, err.Error(),
		)
	}

	hash := commit.Hash
	set, ok := r.sets[hash]
	if !ok {
		set = &htlcSet{
			firstSeen: r.cfg.Clock.Now(),
			htlcs: make(
				map[htlcswitch.CircuitKey]*heldHTLC,
			),
		}
		r.sets[hash] = set
	}
	set.htlcs[commit.CircuitKey] = held
	set.amount += held.add.Amount

	inv, err := r.cfg.Registry.LookupInvoice(hash)
	if err != nil {
		return err
	}

	log.Debugf("Holding %d of %d for invoice %v in %d shards",
		set.amount, inv.Amount, hash, len(set.htlcs))

	if set.amount < inv.Amount {
		return nil
	}

	delete(r.sets, hash)

	ctx, cancel := r.WithCtxQuit()
	defer cancel()

	if _, err := r.cfg.Registry.settle(ctx, hash, set.amount); err != nil {
		r.failSet(set, htlcswitch.CodeUnknownPaymentHash, err.Error())
		return err
	}

	for key, h := range set.htlcs {
		err := r.send(h.peer, &htlcswitch.FulfillHTLC{
			CircuitKey: key,
			Preimage:   inv.Preimage,
		})
		if err != nil {
			log.Errorf("Unable to fulfill %v: %v", key, err)
		}
	}

	return nil
}

// verify checks the commitment signature of an offered HTLC.
func (r *Receiver) verify(peer route.Vertex, add *htlcswitch.AddHTLC,
	sig []byte) error {

	if len(sig) == 0 {
		return errors.New("missing commitment signature")
	}
	if r.cfg.Verifier == nil {
		return nil
	}

	digest, err := add.CommitmentDigest()
	if err != nil {
		return err
	}

	ctx, cancel := r.WithCtxQuit()
	defer cancel()

	return r.cfg.Verifier.VerifyCommitment(ctx, peer, digest, sig)
}

// handleFail drops an HTLC the sender cancelled.
func (r *Receiver) handleFail(peer route.Vertex, fail *htlcswitch.FailHTLC) {
	if held, ok := r.offered[fail.CircuitKey]; ok && held.peer == peer {
		delete(r.offered, fail.CircuitKey)
		log.Debugf("Sender cancelled offered %v", fail.CircuitKey)

		return
	}

	set, ok := r.sets[fail.Hash]
	if !ok {
		return
	}

	held, ok := set.htlcs[fail.CircuitKey]
	if !ok || held.peer != peer {
		return
	}

	delete(set.htlcs, fail.CircuitKey)
	set.amount -= held.add.Amount

	log.Debugf("Sender cancelled held %v (code=%v)", fail.CircuitKey,
		fail.Code)

	if len(set.htlcs) == 0 {
		delete(r.sets, fail.Hash)
	}
}

// expireSets fails back every set that stayed incomplete for longer than
// the MPP timeout and forgets offers that were never committed.
func (r *Receiver) expireSets(now time.Time) {
	for hash, set := range r.sets {
		if now.Sub(set.firstSeen) < r.cfg.MppTimeout {
			continue
		}

		log.Infof("Shards of %v timed out with %d held", hash,
			set.amount)

		delete(r.sets, hash)
		r.failSet(set, htlcswitch.CodeMppTimeout, "mpp timeout")
	}

	for key, held := range r.offered {
		if now.Sub(held.offeredAt) >= r.cfg.MppTimeout {
			delete(r.offered, key)
		}
	}
}

// failSet fails every HTLC of a set.
func (r *Receiver) failSet(set *htlcSet, code htlcswitch.FailCode,
	reason string) {

	for key, h := range set.htlcs {
		if err := r.reject(h.peer, key, code, reason); err != nil {
			log.Errorf("Unable to fail %v: %v", key, err)
		}
	}
}

// reject fails an HTLC back to its sender.
func (r *Receiver) reject(peer route.Vertex, key htlcswitch.CircuitKey,
	code htlcswitch.FailCode, reason string) error {

	log.Debugf("Failing %v: %v (%s)", key, code, reason)

	return r.send(peer, &htlcswitch.FailHTLC{
		CircuitKey: key,
		Code:       code,
		Reason:     []byte(reason),
	})
}

// send delivers a message to a peer.
func (r *Receiver) send(peer route.Vertex, msg htlcswitch.Message) error {
	ctx, cancel := r.WithCtxQuit()
	defer cancel()

	return r.cfg.Mailbox.Send(ctx, htlcswitch.PeerMessage{
		Peer: peer,
		Msg:  msg,
	})
}
